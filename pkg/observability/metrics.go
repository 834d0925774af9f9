package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sign-in reconciliation metrics
	SignInsTotal            *prometheus.CounterVec
	ReconciliationDuration  prometheus.Histogram
	ReconciliationErrors    *prometheus.CounterVec
	GroupsAutoCreatedTotal  prometheus.Counter
	MembershipsCreatedTotal prometheus.Counter
	BootstrapPromotions     prometheus.Counter

	// Booking metrics
	BookingsCreatedTotal  prometheus.Counter
	BookingConflictsTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh private one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openbook_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openbook_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SignInsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openbook_signins_total",
				Help: "Total number of SSO sign-ins by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ReconciliationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "openbook_reconciliation_duration_seconds",
				Help:    "Duration of sign-in reconciliation in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReconciliationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openbook_reconciliation_errors_total",
				Help: "Reconciliation errors that were logged and swallowed, by step",
			},
			[]string{"step"},
		),
		GroupsAutoCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openbook_groups_auto_created_total",
				Help: "Groups created lazily from SSO assertions",
			},
		),
		MembershipsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openbook_memberships_created_total",
				Help: "Group memberships created during reconciliation",
			},
		),
		BootstrapPromotions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openbook_bootstrap_promotions_total",
				Help: "First-user bootstrap promotions to admin",
			},
		),
		BookingsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openbook_bookings_created_total",
				Help: "Bookings created",
			},
		),
		BookingConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openbook_booking_conflicts_total",
				Help: "Booking attempts rejected for overlapping an existing booking",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "openbook_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "openbook_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SignInsTotal,
		m.ReconciliationDuration,
		m.ReconciliationErrors,
		m.GroupsAutoCreatedTotal,
		m.MembershipsCreatedTotal,
		m.BootstrapPromotions,
		m.BookingsCreatedTotal,
		m.BookingConflictsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware wraps an HTTP handler with request metrics collection
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.ObserveHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
