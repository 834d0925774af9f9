// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry setup, and graceful shutdown for OpenBook.
//
// # Logging
//
// Logger wraps stdlib slog with a JSON handler. Handlers and services attach
// context with WithField/WithFields/WithError so reconciliation failures can
// be diagnosed after the fact (user id, group name, step).
//
// # Metrics
//
// Metrics registers openbook_* counters, histograms, and gauges covering
// HTTP traffic, sign-in reconciliation outcomes, and booking activity.
//
// # Health
//
// HealthChecker exposes liveness and readiness probes; readiness pings the
// database and, when configured, Redis.
package observability
