// Package api assembles the OpenBook HTTP server.
//
// # Overview
//
// The server composes the SSO sign-in handlers, the booking handlers, and
// the directory/admin handlers onto a single gorilla/mux router with
// request-ID, logging, recovery, and metrics middleware. Login routes are
// throttled by the Redis rate limiter when one is configured.
//
// # Route Groups
//
//   - /auth/sso/...        sign-in, callback, logout (rate limited)
//   - /sso/providers       provider administration (admin only)
//   - /api/v1/resources    bookable resources
//   - /api/v1/bookings     reservations
//   - /api/v1/users        directory (admin only)
//   - /api/v1/invitations  admin invitations
//   - /healthz             liveness, includes a database ping
//
// # Related Packages
//
//   - pkg/sso: sign-in flow and session management
//   - pkg/booking: resource and booking services
//   - pkg/directory: user listing and admin invitations
//   - pkg/middleware: session and rate-limit middleware
package api
