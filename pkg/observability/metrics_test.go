package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.SignInsTotal.WithLabelValues("okta", "success").Inc()
	m.GroupsAutoCreatedTotal.Inc()
	m.BootstrapPromotions.Inc()
	m.ReconciliationErrors.WithLabelValues("promotion").Inc()
	m.ObserveHTTPRequest("GET", "/api/bookings", 200, 25*time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["openbook_signins_total"])
	assert.True(t, names["openbook_groups_auto_created_total"])
	assert.True(t, names["openbook_bootstrap_promotions_total"])
	assert.True(t, names["openbook_reconciliation_errors_total"])
	assert.True(t, names["openbook_http_requests_total"])
}

func TestMetricsMiddlewareRecordsStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/api/resources/999", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	families, err := registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() != "openbook_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == "404" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "expected a 404-labelled request counter")
}

func TestMetricsHandlerServes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
