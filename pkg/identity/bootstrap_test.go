package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecwu/openbook/pkg/auth"
)

func newTestPromoter(t *testing.T) (*BootstrapPromoter, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newTestStore(t)
	return NewBootstrapPromoter(store, testLogger(), nil), mock
}

func countRows(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestMaybePromoteFirstUser_SoleUserPromoted(t *testing.T) {
	promoter, mock := newTestPromoter(t)
	user := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleUser}

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRows(1))
	mock.ExpectExec("UPDATE users SET role").
		WithArgs(string(auth.RoleAdmin), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	promoted, err := promoter.MaybePromoteFirstUser(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, promoted)
	// Role propagated in place so the session layer sees admin immediately.
	assert.Equal(t, auth.RoleAdmin, user.Role)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaybePromoteFirstUser_PopulatedStoreNoMutation(t *testing.T) {
	promoter, mock := newTestPromoter(t)
	user := &auth.User{ID: 6, Email: "bob@example.org", Role: auth.RoleUser}

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRows(6))

	promoted, err := promoter.MaybePromoteFirstUser(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Equal(t, auth.RoleUser, user.Role)

	// No UPDATE was issued.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaybePromoteFirstUser_ZeroUsers(t *testing.T) {
	promoter, mock := newTestPromoter(t)
	user := &auth.User{ID: 1, Role: auth.RoleUser}

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRows(0))

	promoted, err := promoter.MaybePromoteFirstUser(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestMaybePromoteFirstUser_AlreadyAdminNoOp(t *testing.T) {
	// The sole user's repeat sign-ins must not report a fresh promotion
	// each time (each report would write another promotion audit event).
	promoter, mock := newTestPromoter(t)
	user := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleAdmin}

	promoted, err := promoter.MaybePromoteFirstUser(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Equal(t, auth.RoleAdmin, user.Role)

	// Neither the count query nor the role update was issued.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaybePromoteFirstUser_CountError(t *testing.T) {
	promoter, mock := newTestPromoter(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("timeout"))

	promoted, err := promoter.MaybePromoteFirstUser(context.Background(), &auth.User{ID: 1})
	assert.Error(t, err)
	assert.False(t, promoted)
}

func TestMaybePromoteFirstUser_UpdateErrorKeepsPriorRole(t *testing.T) {
	promoter, mock := newTestPromoter(t)
	user := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleUser}

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRows(1))
	mock.ExpectExec("UPDATE users SET role").
		WillReturnError(errors.New("connection reset"))

	promoted, err := promoter.MaybePromoteFirstUser(context.Background(), user)
	assert.Error(t, err)
	assert.False(t, promoted)
	assert.Equal(t, auth.RoleUser, user.Role)
}
