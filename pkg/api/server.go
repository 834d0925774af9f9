package api

import (
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/ecwu/openbook/pkg/audit"
	"github.com/ecwu/openbook/pkg/booking"
	"github.com/ecwu/openbook/pkg/directory"
	"github.com/ecwu/openbook/pkg/httputil"
	"github.com/ecwu/openbook/pkg/middleware"
	"github.com/ecwu/openbook/pkg/observability"
	"github.com/ecwu/openbook/pkg/sso"
)

// Options configures the API server
type Options struct {
	// BaseURL is the externally reachable origin used for SSO callbacks
	BaseURL string

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Redis enables login rate limiting when non-nil
	Redis           *redis.Client
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// Server is the OpenBook API server
type Server struct {
	router    *mux.Router
	db        *sql.DB
	logger    *observability.Logger
	metrics   *observability.Metrics
	sso       *sso.Handlers
	bookings  *booking.Service
	directory *directory.Service
	audit     *audit.Recorder
	limiter   *middleware.RateLimiter
}

// NewServer creates the API server and registers all routes
func NewServer(db *sql.DB, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}

	s := &Server{
		router:    mux.NewRouter(),
		db:        db,
		logger:    logger,
		metrics:   opts.Metrics,
		sso:       sso.NewHandlers(db, opts.BaseURL, logger, opts.Metrics),
		bookings:  booking.NewService(db, logger, opts.Metrics),
		directory: directory.NewService(db, logger),
		audit:     audit.NewRecorder(db, logger),
	}

	if opts.Redis != nil {
		cfg := middleware.LoginRateLimitConfig()
		if opts.LoginRateLimit > 0 {
			cfg.RequestsPerWindow = opts.LoginRateLimit
		}
		if opts.LoginRateWindow > 0 {
			cfg.WindowDuration = opts.LoginRateWindow
		}
		s.limiter = middleware.NewRateLimiter(opts.Redis, cfg, logger)
	}

	s.setupRoutes()
	return s
}

// SSO exposes the sign-in handler set, used by cmd for session cleanup jobs
func (s *Server) SSO() *sso.Handlers {
	return s.sso
}

// Directory exposes the directory service, used by cmd for cleanup jobs
func (s *Server) Directory() *directory.Service {
	return s.directory
}

func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(mux.MiddlewareFunc(httputil.LoggingMiddleware(s.logger)))
	s.router.Use(mux.MiddlewareFunc(httputil.RecoveryMiddleware(s.logger)))
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}
	if s.limiter != nil {
		s.router.Use(loginThrottle(s.limiter))
	}

	s.router.HandleFunc("/healthz", s.healthCheck).Methods("GET")

	// SSO sign-in flow plus provider administration
	adminOnly := mux.MiddlewareFunc(middleware.RequireAdmin(s.sso))
	s.sso.RegisterRoutes(s.router, adminOnly)

	// Routes available to any signed-in user
	authed := s.router.PathPrefix("/api/v1").Subrouter()
	authed.Use(mux.MiddlewareFunc(middleware.RequireSession(s.sso)))

	bookingHandlers := &BookingHandlers{service: s.bookings, logger: s.logger}
	bookingHandlers.RegisterRoutes(authed)

	directoryHandlers := &DirectoryHandlers{
		service:  s.directory,
		sessions: s.sso.Sessions(),
		audit:    s.audit,
		logger:   s.logger,
	}
	directoryHandlers.RegisterRoutes(authed)

	// Admin-only routes live on a second subrouter with the same prefix
	admin := s.router.PathPrefix("/api/v1").Subrouter()
	admin.Use(adminOnly)
	bookingHandlers.RegisterAdminRoutes(admin)
	directoryHandlers.RegisterAdminRoutes(admin)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// healthCheck reports liveness, including a database ping
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.WithError(err).Error("health check database ping failed")
		httputil.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loginThrottle applies the rate limiter to the sign-in routes only.
// Other routes pass through untouched.
func loginThrottle(limiter *middleware.RateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/auth/sso/") {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
