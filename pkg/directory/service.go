package directory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecwu/openbook/pkg/auth"
	"github.com/ecwu/openbook/pkg/identity"
	"github.com/ecwu/openbook/pkg/observability"
)

// DefaultInvitationTTL is how long an admin invitation stays valid
const DefaultInvitationTTL = 72 * time.Hour

var (
	// ErrInvitationNotFound covers unknown, already-accepted, and
	// expired tokens alike so callers cannot probe token state
	ErrInvitationNotFound = errors.New("directory: invitation not found")
	// ErrEmailMismatch is returned when the accepting user's email
	// does not match the invitation
	ErrEmailMismatch = errors.New("directory: invitation was issued for a different email")
)

// Invitation represents a pending admin promotion
type Invitation struct {
	ID         int64      `json:"id"`
	Token      string     `json:"token,omitempty"` // Only set on creation
	Email      string     `json:"email"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Service provides user/group listing and the admin invitation flow
type Service struct {
	db     *sql.DB
	users  *identity.Store
	logger *observability.Logger
}

// NewService creates a directory service over an open database handle
func NewService(db *sql.DB, logger *observability.Logger) *Service {
	return &Service{db: db, users: identity.NewStore(db), logger: logger}
}

// ListUsers lists users whose email or name matches search (substring,
// case-insensitive); an empty search lists everyone. Paged.
func (s *Service) ListUsers(ctx context.Context, search string, limit, offset int) ([]*auth.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, email, full_name, role, is_active, created_at, updated_at, last_login_at
		FROM users
	`
	args := []interface{}{}
	if search != "" {
		query += ` WHERE LOWER(email) LIKE $1 OR LOWER(full_name) LIKE $1`
		args = append(args, "%"+strings.ToLower(search)+"%")
	}
	query += fmt.Sprintf(` ORDER BY email LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user := &auth.User{}
		var fullName sql.NullString
		var lastLogin sql.NullTime
		err := rows.Scan(&user.ID, &user.Email, &fullName, &user.Role, &user.IsActive,
			&user.CreatedAt, &user.UpdatedAt, &lastLogin)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.FullName = fullName.String
		if lastLogin.Valid {
			user.LastLoginAt = &lastLogin.Time
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ListGroups lists groups with their member counts
func (s *Service) ListGroups(ctx context.Context) ([]*auth.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM groups ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*auth.Group
	for rows.Next() {
		group := &auth.Group{}
		var description sql.NullString
		err := rows.Scan(&group.ID, &group.Name, &description, &group.IsActive,
			&group.CreatedAt, &group.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		group.Description = description.String
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// ListGroupMembers lists the users belonging to a group
func (s *Service) ListGroupMembers(ctx context.Context, groupID int64) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.full_name, u.role, u.is_active, u.created_at, u.updated_at, u.last_login_at
		FROM users u
		JOIN memberships m ON m.user_id = u.id
		WHERE m.group_id = $1
		ORDER BY u.email
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user := &auth.User{}
		var fullName sql.NullString
		var lastLogin sql.NullTime
		err := rows.Scan(&user.ID, &user.Email, &fullName, &user.Role, &user.IsActive,
			&user.CreatedAt, &user.UpdatedAt, &lastLogin)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.FullName = fullName.String
		if lastLogin.Valid {
			user.LastLoginAt = &lastLogin.Time
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateInvitation issues an admin invitation for the given email. The
// token is only returned here; storage keeps it for matching on accept.
func (s *Service) CreateInvitation(ctx context.Context, createdBy int64, email string) (*Invitation, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	now := time.Now().UTC()
	invitation := &Invitation{
		Token:     token,
		Email:     email,
		CreatedBy: createdBy,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultInvitationTTL),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO admin_invitations (token, email, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, token, email, createdBy, now, invitation.ExpiresAt).Scan(&invitation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"invitation_id": invitation.ID,
		"email":         email,
		"created_by":    createdBy,
	}).Info("admin invitation created")
	return invitation, nil
}

// AcceptInvitation validates the token against the user's email and
// promotes the user to admin. The invitation is marked accepted.
func (s *Service) AcceptInvitation(ctx context.Context, token string, user *auth.User) error {
	invitation := &Invitation{}
	var acceptedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, created_by, created_at, expires_at, accepted_at
		FROM admin_invitations WHERE token = $1
	`, token).Scan(&invitation.ID, &invitation.Email, &invitation.CreatedBy,
		&invitation.CreatedAt, &invitation.ExpiresAt, &acceptedAt)
	if err == sql.ErrNoRows {
		return ErrInvitationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up invitation: %w", err)
	}

	if acceptedAt.Valid {
		return ErrInvitationNotFound
	}
	if time.Now().UTC().After(invitation.ExpiresAt) {
		return ErrInvitationNotFound
	}
	if !strings.EqualFold(invitation.Email, user.Email) {
		return ErrEmailMismatch
	}

	if err := s.users.UpdateUserRole(ctx, user.ID, auth.RoleAdmin); err != nil {
		return fmt.Errorf("failed to promote user: %w", err)
	}
	user.Role = auth.RoleAdmin

	_, err = s.db.ExecContext(ctx, `
		UPDATE admin_invitations SET accepted_at = $1 WHERE id = $2
	`, time.Now().UTC(), invitation.ID)
	if err != nil {
		return fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"invitation_id": invitation.ID,
		"user_id":       user.ID,
	}).Info("admin invitation accepted, user promoted")
	return nil
}

// CleanupExpiredInvitations deletes unaccepted invitations past their
// expiry and returns the number removed. Run periodically.
func (s *Service) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM admin_invitations WHERE accepted_at IS NULL AND expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup invitations: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

