package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecwu/openbook/pkg/observability"
)

func newTestLimiter(t *testing.T, config *RateLimitConfig) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRateLimiter(client, config, logger)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute})
	handler := limiter.Handler(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/auth/sso/okta/login", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}
}

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	handler := limiter.Handler(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/auth/sso/okta/login", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(last, r)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "rate limit exceeded")
}

func TestRateLimiter_KeysByClientIP(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	handler := limiter.Handler(okHandler())

	first := httptest.NewRecorder()
	r1 := httptest.NewRequest("GET", "/auth/sso/okta/login", nil)
	r1.Header.Set("X-Real-IP", "203.0.113.9")
	handler.ServeHTTP(first, r1)
	require.Equal(t, http.StatusOK, first.Code)

	// Same client IP is now limited.
	blocked := httptest.NewRecorder()
	r2 := httptest.NewRequest("GET", "/auth/sso/okta/login", nil)
	r2.Header.Set("X-Real-IP", "203.0.113.9")
	handler.ServeHTTP(blocked, r2)
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)

	// A different client IP is not.
	other := httptest.NewRecorder()
	r3 := httptest.NewRequest("GET", "/auth/sso/okta/login", nil)
	r3.Header.Set("X-Real-IP", "203.0.113.10")
	handler.ServeHTTP(other, r3)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, logger)
	handler := limiter.Handler(okHandler())

	// Take Redis down; requests must still get through.
	mr.Close()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/auth/sso/okta/login", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_XForwardedForPreferred(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", ClientIP(r))

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "203.0.113.10")
	assert.Equal(t, "203.0.113.10", ClientIP(r))
}
