package identity

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecwu/openbook/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func groupRows(id int64, name string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "description", "is_active", "created_at", "updated_at",
	}).AddRow(id, name, autoCreatedDescription, true, now, now)
}

func newTestResolver(t *testing.T) (*GroupResolver, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newTestStore(t)
	return NewGroupResolver(store, testLogger(), nil), mock
}

func TestResolveOrCreate_ExistingGroup(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").
		WillReturnRows(groupRows(4, "research"))

	group, err := resolver.ResolveOrCreate(context.Background(), "research")
	require.NoError(t, err)
	assert.Equal(t, int64(4), group.ID)
	assert.Equal(t, "research", group.Name)

	// No insert was attempted.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveOrCreate_CreatesUnseenGroup(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("ops").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "is_active", "created_at", "updated_at",
		}))
	mock.ExpectQuery("INSERT INTO groups").
		WithArgs("ops", autoCreatedDescription, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	group, err := resolver.ResolveOrCreate(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(9), group.ID)
	assert.Equal(t, "ops", group.Name)
	assert.Equal(t, autoCreatedDescription, group.Description)
	assert.True(t, group.IsActive)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveOrCreate_CreationRace(t *testing.T) {
	// Two sign-ins both miss the lookup; the loser's insert hits the name
	// uniqueness constraint and must re-read the winner's row instead of
	// failing.
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "is_active", "created_at", "updated_at",
		}))
	mock.ExpectQuery("INSERT INTO groups").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").
		WillReturnRows(groupRows(4, "research"))

	group, err := resolver.ResolveOrCreate(context.Background(), "research")
	require.NoError(t, err)
	assert.Equal(t, int64(4), group.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveOrCreate_EmptyNameRejected(t *testing.T) {
	resolver, _ := newTestResolver(t)

	_, err := resolver.ResolveOrCreate(context.Background(), "")
	assert.Error(t, err)
}

func TestResolveOrCreate_LookupErrorPropagates(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WillReturnError(errors.New("connection reset"))

	_, err := resolver.ResolveOrCreate(context.Background(), "research")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group lookup failed")
}
