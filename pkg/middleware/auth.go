package middleware

import (
	"context"
	"net/http"

	"github.com/ecwu/openbook/pkg/auth"
)

// SessionResolver resolves a request's session cookie to the
// authenticated user. *sso.Handlers satisfies this.
type SessionResolver interface {
	GetSessionContext(r *http.Request) (*auth.SessionContext, error)
}

type contextKey string

const sessionContextKey contextKey = "session_context"

// GetSessionContext returns the session context stored on the request,
// or nil when the request is unauthenticated.
func GetSessionContext(r *http.Request) *auth.SessionContext {
	sc, _ := r.Context().Value(sessionContextKey).(*auth.SessionContext)
	return sc
}

// WithSessionContext returns a copy of the request carrying the given
// session context, as RequireSession would attach it.
func WithSessionContext(r *http.Request, sc *auth.SessionContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sessionContextKey, sc))
}

// RequireSession rejects requests without a valid session and stores
// the session context for downstream handlers.
func RequireSession(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, err := resolver.GetSessionContext(r)
			if err != nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, WithSessionContext(r, sc))
		})
	}
}

// RequireAdmin rejects requests whose session user is not an admin
func RequireAdmin(resolver SessionResolver) func(http.Handler) http.Handler {
	requireSession := RequireSession(resolver)
	return func(next http.Handler) http.Handler {
		return requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := GetSessionContext(r)
			if sc == nil || !sc.HasRole(auth.RoleAdmin) {
				http.Error(w, "admin access required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
