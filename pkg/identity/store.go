package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/ecwu/openbook/pkg/auth"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("identity: not found")

// IsUniqueViolation reports whether err is a uniqueness-constraint violation
// from either supported driver. Callers treat these as benign races.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Store is the durable identity store for users, groups, and memberships.
// It owns no logic beyond constraint-backed persistence; every method is a
// single atomic statement.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindUserByID retrieves a user by id
func (s *Store) FindUserByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, is_active, created_at, updated_at, last_login_at
		FROM users WHERE id = $1
	`, id))
}

// FindUserByEmail retrieves a user by email
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, is_active, created_at, updated_at, last_login_at
		FROM users WHERE email = $1
	`, email))
}

// CreateUser inserts a new active user with the default role
func (s *Store) CreateUser(ctx context.Context, email, fullName string) (*auth.User, error) {
	now := time.Now().UTC()
	user := &auth.User{
		Email:     email,
		FullName:  fullName,
		Role:      auth.RoleUser,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, full_name, role, is_active, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, email, fullName, user.Role, true, now, now, now).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// TouchUserLogin records a successful sign-in for the user
func (s *Store) TouchUserLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $1, updated_at = $2 WHERE id = $3
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch user login: %w", err)
	}
	return nil
}

// CountUsers returns the total number of user records
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateUserRole sets the application role for a user
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role auth.Role) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role = $1, updated_at = $2 WHERE id = $3
	`, role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindGroupByName retrieves a group by exact name match
func (s *Store) FindGroupByName(ctx context.Context, name string) (*auth.Group, error) {
	group := &auth.Group{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM groups WHERE name = $1
	`, name).Scan(&group.ID, &group.Name, &description, &group.IsActive,
		&group.CreatedAt, &group.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	if description.Valid {
		group.Description = description.String
	}
	return group, nil
}

// InsertGroup creates a new active group. A uniqueness violation on name is
// surfaced unwrapped so callers can detect the race with IsUniqueViolation.
func (s *Store) InsertGroup(ctx context.Context, name, description string) (*auth.Group, error) {
	now := time.Now().UTC()
	group := &auth.Group{
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, name, description, true, now, now).Scan(&group.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}
	return group, nil
}

// FindMembership retrieves the membership for a (user, group) pair
func (s *Store) FindMembership(ctx context.Context, userID, groupID int64) (*auth.Membership, error) {
	m := &auth.Membership{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, group_id, role, created_at
		FROM memberships WHERE user_id = $1 AND group_id = $2
	`, userID, groupID).Scan(&m.ID, &m.UserID, &m.GroupID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// InsertMembership links a user to a group. A uniqueness violation on the
// (user, group) pair is surfaced unwrapped for IsUniqueViolation.
func (s *Store) InsertMembership(ctx context.Context, userID, groupID int64, role auth.GroupRole) (*auth.Membership, error) {
	now := time.Now().UTC()
	m := &auth.Membership{
		UserID:    userID,
		GroupID:   groupID,
		Role:      role,
		CreatedAt: now,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memberships (user_id, group_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, groupID, role, now).Scan(&m.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}
	return m, nil
}

func (s *Store) scanUser(row *sql.Row) (*auth.User, error) {
	user := &auth.User{}
	var fullName sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.Email, &fullName, &user.Role, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if fullName.Valid {
		user.FullName = fullName.String
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return user, nil
}
