// Package sso provides single sign-on for OpenBook.
//
// # Overview
//
// Two provider families are supported: OpenID Connect (go-oidc) and
// SAML 2.0 (gosaml2). Provider configurations live in the database and
// are instantiated through a factory, so operators can add or disable
// providers at runtime without a redeploy.
//
// # Sign-in flow
//
// The HTTP layer exposes login initiation and callback endpoints. A
// successful callback:
//  1. Verifies the upstream assertion with the provider
//  2. Upserts the local user by email
//  3. Runs identity reconciliation (bootstrap promotion, then group
//     membership sync for every asserted group name)
//  4. Issues a session carrying the post-reconciliation role
//
// Reconciliation problems never fail the sign-in; they are logged and
// the session proceeds with whatever state was reached.
//
// # Sessions
//
// Sessions are durable rows fronted by a small in-process LRU cache.
// Expired sessions are swept by a periodic cleanup job.
//
// # Related Packages
//
//   - pkg/identity: the reconciliation pipeline invoked on every sign-in
//   - pkg/auth: user, group, and role types
package sso
