// Package directory provides admin-facing views over users and groups,
// plus the admin invitation flow.
//
// Bootstrap promotion only covers the very first user; every later
// admin is promoted by an existing one. The invitation flow issues a
// random single-use token bound to an email address; accepting it
// before expiry sets that user's role to admin. Expired invitations are
// swept by a periodic cleanup job.
package directory
