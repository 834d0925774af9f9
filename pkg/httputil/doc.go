// Package httputil provides shared HTTP helpers for the API handlers:
// JSON response writers, request parsing utilities, and router-level
// middleware for request logging, panic recovery, and request IDs.
package httputil
