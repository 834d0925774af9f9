// Package identity implements the sign-in reconciliation pipeline: mapping
// an upstream SSO assertion (a user plus a flat list of group names) onto
// durable user, group, and membership records.
//
// # Pipeline
//
// Reconciler runs once per successful sign-in, in this order:
//
//  1. BootstrapPromoter: if the signing-in user is the only user in the
//     store, promote them to admin. One-time, idempotent, best-effort.
//  2. MembershipSynchronizer: for every asserted group name, resolve the
//     group (creating it on first sight via GroupResolver) and ensure a
//     membership record exists. Strictly additive; never revokes.
//
// # Concurrency
//
// No in-process locks. Correctness under concurrent sign-ins rests on the
// store's uniqueness constraints (group name, (user, group) pair, user
// email) plus conflict-tolerant re-reads: a unique violation during create
// means another sign-in won the race, so the loser re-reads and proceeds.
// Every store operation is individually atomic, so a cancelled
// reconciliation leaves partial but valid state that self-heals on the
// next sign-in.
//
// # Failure semantics
//
// Nothing in this package fails a sign-in. Errors are isolated per step and
// per group name, logged with user id, group name, and step, and surfaced
// only through Result for metrics.
package identity
