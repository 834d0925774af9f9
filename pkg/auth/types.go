package auth

import "time"

// Role represents an application-wide role
type Role string

const (
	RoleAdmin Role = "admin" // Full administrative access
	RoleUser  Role = "user"  // Regular account
)

// Valid reports whether the role is a known application role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// GroupRole represents a role within a single group
type GroupRole string

const (
	GroupRoleMember  GroupRole = "member"  // Regular group member
	GroupRoleManager GroupRole = "manager" // Can manage the group's bookings
)

// User represents a registered account
type User struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name,omitempty"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// IsAdmin reports whether the user holds the application admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Group represents a named collection of users. Group names are unique and
// case-sensitive as received from the identity provider.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership links one user to one group with an in-group role.
// At most one membership exists per (user, group) pair.
type Membership struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	GroupID   int64     `json:"group_id"`
	Role      GroupRole `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionContext holds the authenticated user for the current request.
// Role reflects any promotion performed during the sign-in that created
// the session, without requiring re-authentication.
type SessionContext struct {
	User *User
}

// HasRole checks whether the session user holds at least the given role
func (sc *SessionContext) HasRole(role Role) bool {
	if sc.User == nil {
		return false
	}
	if sc.User.Role == RoleAdmin {
		return true
	}
	return sc.User.Role == role
}
