package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecwu/openbook/pkg/auth"
)

type stubResolver struct {
	sc  *auth.SessionContext
	err error
}

func (s *stubResolver) GetSessionContext(r *http.Request) (*auth.SessionContext, error) {
	return s.sc, s.err
}

func TestRequireSession(t *testing.T) {
	resolver := &stubResolver{sc: &auth.SessionContext{
		User: &auth.User{ID: 1, Role: auth.RoleUser},
	}}

	var seen *auth.SessionContext
	handler := RequireSession(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSessionContext(r)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/bookings", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, seen)
	assert.Equal(t, int64(1), seen.User.ID)
}

func TestRequireSession_Unauthenticated(t *testing.T) {
	resolver := &stubResolver{err: errors.New("no session")}
	handler := RequireSession(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/bookings", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	admin := &stubResolver{sc: &auth.SessionContext{
		User: &auth.User{ID: 1, Role: auth.RoleAdmin},
	}}
	user := &stubResolver{sc: &auth.SessionContext{
		User: &auth.User{ID: 6, Role: auth.RoleUser},
	}}

	allowed := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { allowed = true })

	w := httptest.NewRecorder()
	RequireAdmin(admin)(next).ServeHTTP(w, httptest.NewRequest("GET", "/sso/providers", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, allowed)

	allowed = false
	w = httptest.NewRecorder()
	RequireAdmin(user)(next).ServeHTTP(w, httptest.NewRequest("GET", "/sso/providers", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, allowed)
}
