// Package audit records security-relevant events to the database.
//
// # Overview
//
// Every sign-in, role promotion, invitation, and provider configuration
// change is written as an immutable audit event. Recording is best
// effort: a failed write is logged and never fails the operation that
// produced it.
//
// # Related Packages
//
//   - pkg/api: records events from the admin handlers
//   - pkg/database: schema migrations
package audit
