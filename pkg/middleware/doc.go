// Package middleware provides HTTP middleware for session authentication
// and rate limiting.
//
// # Middleware Components
//
// Session authentication resolves the session cookie to a user and
// stores the SessionContext on the request:
//
//	router.Use(middleware.RequireSession(handlers))
//	admin.Use(middleware.RequireAdmin(handlers))
//
// Rate limiting is Redis-backed (fixed window, shared across
// instances), applied to the login and callback routes keyed by client
// IP. Redis failures fail open: losing the limiter must not take down
// sign-in.
//
//	limiter := middleware.NewRateLimiter(redisClient, middleware.LoginRateLimitConfig(), logger)
//	router.Use(limiter.Handler)
package middleware
