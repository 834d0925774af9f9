package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSessionTTL is the lifetime of a newly created session
const DefaultSessionTTL = 24 * time.Hour

// sessionCacheSize bounds the in-process session read cache
const sessionCacheSize = 4096

// ErrSessionNotFound is returned for missing or expired sessions
var ErrSessionNotFound = errors.New("sso: session not found")

// SessionManager manages durable SSO sessions. Reads are served from an
// LRU cache when possible; the database remains the source of truth, so
// a cache entry is still checked for expiry before being returned.
type SessionManager struct {
	db    *sql.DB
	cache *lru.Cache[string, *Session]
	ttl   time.Duration
}

// NewSessionManager creates a session manager with the default TTL
func NewSessionManager(db *sql.DB) *SessionManager {
	cache, _ := lru.New[string, *Session](sessionCacheSize)
	return &SessionManager{db: db, cache: cache, ttl: DefaultSessionTTL}
}

// CreateSession issues a new session for the user and stores it. The
// returned session carries a random UUID id and the supplied role.
func (m *SessionManager) CreateSession(ctx context.Context, providerID, userID int64, externalUserID, role, samlSessionIndex string) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:               uuid.NewString(),
		ProviderID:       providerID,
		UserID:           userID,
		ExternalUserID:   externalUserID,
		Role:             role,
		SAMLSessionIndex: samlSessionIndex,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.ttl),
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO sso_sessions (id, provider_id, user_id, external_user_id, role, saml_session_index, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.ProviderID, session.UserID, session.ExternalUserID,
		session.Role, session.SAMLSessionIndex, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.cache.Add(session.ID, session)
	return session, nil
}

// GetSession retrieves a live session by id. Expired sessions are
// reported as not found.
func (m *SessionManager) GetSession(ctx context.Context, id string) (*Session, error) {
	if session, ok := m.cache.Get(id); ok {
		if session.Expired(time.Now().UTC()) {
			m.cache.Remove(id)
			return nil, ErrSessionNotFound
		}
		return session, nil
	}

	session := &Session{}
	var samlSessionIndex sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT id, provider_id, user_id, external_user_id, role, saml_session_index, created_at, expires_at
		FROM sso_sessions WHERE id = $1
	`, id).Scan(&session.ID, &session.ProviderID, &session.UserID, &session.ExternalUserID,
		&session.Role, &samlSessionIndex, &session.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if samlSessionIndex.Valid {
		session.SAMLSessionIndex = samlSessionIndex.String
	}

	if session.Expired(time.Now().UTC()) {
		return nil, ErrSessionNotFound
	}

	m.cache.Add(session.ID, session)
	return session, nil
}

// DeleteSession removes a session from storage and the cache
func (m *SessionManager) DeleteSession(ctx context.Context, id string) error {
	m.cache.Remove(id)
	_, err := m.db.ExecContext(ctx, `DELETE FROM sso_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// UpdateSessionRole refreshes the role recorded on a live session, used
// after reconciliation promotes the user mid-session.
func (m *SessionManager) UpdateSessionRole(ctx context.Context, id, role string) error {
	_, err := m.db.ExecContext(ctx, `UPDATE sso_sessions SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return fmt.Errorf("failed to update session role: %w", err)
	}
	if session, ok := m.cache.Get(id); ok {
		session.Role = role
	}
	return nil
}

// CleanupExpiredSessions deletes sessions past their expiry and returns
// the number removed. Run periodically from the scheduler.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM sso_sessions WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sessions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	// Cache entries expire on read; no sweep needed here.
	return removed, nil
}
