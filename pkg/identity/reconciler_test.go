package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecwu/openbook/pkg/auth"
)

func newTestReconciler(t *testing.T) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newTestStore(t)
	return NewReconciler(store, testLogger(), nil), mock
}

func TestReconcile_FirstSignInPromotesAndLinks(t *testing.T) {
	// Scenario: alice is the first user ever; she asserts research and ops.
	// She becomes admin and both groups are created and linked.
	reconciler, mock := newTestReconciler(t)
	alice := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleUser}

	// Promotion runs first.
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRows(1))
	mock.ExpectExec("UPDATE users SET role").
		WithArgs(string(auth.RoleAdmin), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Both groups are unseen: create then link.
	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").WillReturnRows(emptyGroupRows())
	mock.ExpectQuery("INSERT INTO groups").
		WithArgs("research", autoCreatedDescription, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
		WithArgs(int64(1), int64(10)).WillReturnRows(emptyMembershipRows())
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs(int64(1), int64(10), string(auth.GroupRoleMember), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("ops").WillReturnRows(emptyGroupRows())
	mock.ExpectQuery("INSERT INTO groups").
		WithArgs("ops", autoCreatedDescription, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
		WithArgs(int64(1), int64(11)).WillReturnRows(emptyMembershipRows())
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs(int64(1), int64(11), string(auth.GroupRoleMember), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

	result := reconciler.Reconcile(context.Background(), alice, []string{"research", "ops"})

	assert.True(t, result.Promoted)
	assert.Equal(t, auth.RoleAdmin, alice.Role)
	assert.Equal(t, 2, result.GroupsSynced)
	assert.Equal(t, 2, result.MembershipsCreated)
	assert.Empty(t, result.Errors)

	// Expectations are ordered: the promotion statements ran before any
	// group or membership statement.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_PopulatedStoreExistingGroup(t *testing.T) {
	// Scenario: the store already has several users; bob asserts a group
	// that exists. His role is untouched and only a membership is added.
	reconciler, mock := newTestReconciler(t)
	bob := &auth.User{ID: 6, Email: "bob@example.org", Role: auth.RoleUser}

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRows(6))

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").WillReturnRows(groupRows(10, "research"))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
		WithArgs(int64(6), int64(10)).WillReturnRows(emptyMembershipRows())
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs(int64(6), int64(10), string(auth.GroupRoleMember), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))

	result := reconciler.Reconcile(context.Background(), bob, []string{"research"})

	assert.False(t, result.Promoted)
	assert.Equal(t, auth.RoleUser, bob.Role)
	assert.Equal(t, 1, result.GroupsSynced)
	assert.Equal(t, 1, result.MembershipsCreated)
	assert.Empty(t, result.Errors)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_SecondRunIsIdempotent(t *testing.T) {
	// Reconciling the same assertion again creates nothing new; the
	// already-admin user is not re-promoted, so no role statements run.
	reconciler, mock := newTestReconciler(t)
	alice := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleAdmin}

	for _, g := range []struct {
		name    string
		groupID int64
	}{{"research", 10}, {"ops", 11}} {
		mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
			WithArgs(g.name).WillReturnRows(groupRows(g.groupID, g.name))
		mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
			WithArgs(int64(1), g.groupID).
			WillReturnRows(emptyMembershipRows().AddRow(100, 1, g.groupID, string(auth.GroupRoleMember), time.Now()))
	}

	result := reconciler.Reconcile(context.Background(), alice, []string{"research", "ops"})

	assert.False(t, result.Promoted)
	assert.Equal(t, 2, result.GroupsSynced)
	assert.Zero(t, result.MembershipsCreated)
	assert.Empty(t, result.Errors)

	// No INSERT statements were expected or issued.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_PromotionFailureDoesNotBlockSync(t *testing.T) {
	reconciler, mock := newTestReconciler(t)
	alice := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleUser}

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("timeout"))

	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").WillReturnRows(groupRows(10, "research"))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
		WithArgs(int64(1), int64(10)).WillReturnRows(emptyMembershipRows())
	mock.ExpectQuery("INSERT INTO memberships").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

	result := reconciler.Reconcile(context.Background(), alice, []string{"research"})

	// Sign-in proceeds with the prior role; membership sync still ran.
	assert.False(t, result.Promoted)
	assert.Equal(t, auth.RoleUser, alice.Role)
	assert.Equal(t, 1, result.GroupsSynced)
	assert.Len(t, result.Errors, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_AdditiveOnly(t *testing.T) {
	// A later assertion missing a previously-linked group must not revoke
	// that membership; no DELETE is ever issued.
	reconciler, mock := newTestReconciler(t)
	alice := &auth.User{ID: 1, Email: "alice@example.org", Role: auth.RoleAdmin}

	// Assertion now only names "research"; "ops" from the prior sign-in is
	// simply not visited.
	mock.ExpectQuery("SELECT (.+) FROM groups WHERE name").
		WithArgs("research").WillReturnRows(groupRows(10, "research"))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
		WithArgs(int64(1), int64(10)).
		WillReturnRows(emptyMembershipRows().AddRow(100, 1, 10, string(auth.GroupRoleMember), time.Now()))

	result := reconciler.Reconcile(context.Background(), alice, []string{"research"})
	assert.Equal(t, 1, result.GroupsSynced)
	assert.Empty(t, result.Errors)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoerceGroupNames(t *testing.T) {
	tests := []struct {
		name     string
		raw      interface{}
		expected []string
	}{
		{"nil", nil, nil},
		{"not a list", "research", nil},
		{"number", 42, nil},
		{"clean list", []interface{}{"research", "ops"}, []string{"research", "ops"}},
		{"mixed types filtered", []interface{}{"research", 1, nil, true, "ops"}, []string{"research", "ops"}},
		{"empty strings dropped", []interface{}{"", "research", ""}, []string{"research"}},
		{"typed slice", []string{"research", "", "ops"}, []string{"research", "ops"}},
		{"empty list", []interface{}{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoerceGroupNames(tt.raw)
			if len(tt.expected) == 0 {
				assert.Empty(t, got)
				return
			}
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestFilterGroupNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, FilterGroupNames([]string{"", "a", "", "b"}))
	assert.Empty(t, FilterGroupNames(nil))
	assert.Empty(t, FilterGroupNames([]string{"", ""}))
}
