// Package auth defines the identity domain types shared across OpenBook:
// users, groups, memberships, and the roles attached to each.
//
// # Roles
//
// Application roles are two-valued: admin and user. The very first account
// to sign in is promoted to admin automatically (see pkg/identity); every
// later account starts as a regular user and can only be promoted through
// the admin invitation flow in pkg/directory.
//
// Group roles are scoped to a single group: member (default) and manager.
//
// # Related Packages
//
//   - pkg/identity: sign-in reconciliation of users, groups, and memberships
//   - pkg/sso: upstream identity provider integration and sessions
//   - pkg/directory: administrative user/group listing and invitations
package auth
