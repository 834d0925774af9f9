package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ecwu/openbook/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the fixed window for counting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns general API rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 300,
		WindowDuration:    time.Minute,
	}
}

// LoginRateLimitConfig returns the tighter limits for the sign-in routes
func LoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is a Redis-backed fixed-window rate limiter keyed by
// client IP, shared across instances. Redis errors fail open.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	logger *observability.Logger
	prefix string
}

// NewRateLimiter creates a new Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, logger *observability.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		logger: logger,
		prefix: "ratelimit",
	}
}

// Allow reports whether a request for key is within the limit. The
// counter and its expiry are updated atomically via a pipeline.
func (rl *RateLimiter) Allow(r *http.Request, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(r.Context(), redisKey)
	pipe.Expire(r.Context(), redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(r.Context()); err != nil {
		// Fail open: losing Redis must not block requests
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the requests left in the current window for key
func (rl *RateLimiter) Remaining(r *http.Request, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(r.Context(), redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter for a key
func (rl *RateLimiter) Reset(r *http.Request, key string) error {
	return rl.redis.Del(r.Context(), fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// Handler wraps an HTTP handler with rate limiting by client IP
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + ClientIP(r)

		allowed, err := rl.Allow(r, key)
		if err != nil {
			if rl.logger != nil {
				rl.logger.WithError(err).Warn("rate limiter unavailable, allowing request")
			}
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			rl.rateLimitExceeded(w, r, key)
			return
		}

		if remaining, err := rl.Remaining(r, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) rateLimitExceeded(w http.ResponseWriter, r *http.Request, key string) {
	retryAfter := rl.config.WindowDuration.Seconds()
	if ttl, err := rl.redis.TTL(r.Context(), fmt.Sprintf("%s:%s", rl.prefix, key)).Result(); err == nil && ttl > 0 {
		retryAfter = ttl.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(fmt.Sprintf(`{"error":"rate limit exceeded","retry_after":%.0f}`, retryAfter)))
}

// ClientIP extracts the originating client address, preferring proxy
// headers over the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
