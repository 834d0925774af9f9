package sso

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionManager(db), mock
}

func TestCreateSession(t *testing.T) {
	manager, mock := newTestSessionManager(t)

	mock.ExpectExec("INSERT INTO sso_sessions").
		WithArgs(sqlmock.AnyArg(), int64(7), int64(1), "ext-1", "admin", "",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session, err := manager.CreateSession(context.Background(), 7, 1, "ext-1", "admin", "")
	require.NoError(t, err)

	_, err = uuid.Parse(session.ID)
	assert.NoError(t, err, "session id should be a UUID")
	assert.Equal(t, "admin", session.Role)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_CacheHitSkipsDatabase(t *testing.T) {
	manager, mock := newTestSessionManager(t)

	mock.ExpectExec("INSERT INTO sso_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := manager.CreateSession(context.Background(), 7, 1, "ext-1", "user", "")
	require.NoError(t, err)

	// No SELECT expectation set up: a read through the cache must not
	// touch the database.
	got, err := manager.GetSession(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_FallsBackToDatabase(t *testing.T) {
	manager, mock := newTestSessionManager(t)
	id := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM sso_sessions WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "provider_id", "user_id", "external_user_id", "role",
			"saml_session_index", "created_at", "expires_at",
		}).AddRow(id, 7, 1, "ext-1", "user", nil, now, now.Add(time.Hour)))

	session, err := manager.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.UserID)
	assert.Empty(t, session.SAMLSessionIndex)
}

func TestGetSession_ExpiredReportsNotFound(t *testing.T) {
	manager, mock := newTestSessionManager(t)
	id := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM sso_sessions WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "provider_id", "user_id", "external_user_id", "role",
			"saml_session_index", "created_at", "expires_at",
		}).AddRow(id, 7, 1, "ext-1", "user", nil, now.Add(-2*time.Hour), now.Add(-time.Hour)))

	_, err := manager.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteSession_EvictsCache(t *testing.T) {
	manager, mock := newTestSessionManager(t)

	mock.ExpectExec("INSERT INTO sso_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := manager.CreateSession(context.Background(), 7, 1, "ext-1", "user", "")
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM sso_sessions WHERE id").
		WithArgs(created.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, manager.DeleteSession(context.Background(), created.ID))

	// A subsequent read must go to the database and miss.
	mock.ExpectQuery("SELECT (.+) FROM sso_sessions WHERE id").
		WithArgs(created.ID).
		WillReturnError(sql.ErrNoRows)

	_, err = manager.GetSession(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCleanupExpiredSessions(t *testing.T) {
	manager, mock := newTestSessionManager(t)

	mock.ExpectExec("DELETE FROM sso_sessions WHERE expires_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := manager.CleanupExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}
