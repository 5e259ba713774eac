package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kjstillabower/weather-proxy/internal/traffic"
)

// TestMetrics_Usable verifies that label dimensions match usage across the
// client, cache, service and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/weather/{location}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/weather/{location}").Observe(0.01)
	WeatherQueriesTotal.WithLabelValues("current", "C").Inc()
	UpstreamCallsTotal.WithLabelValues("current", "success").Inc()
	UpstreamDuration.WithLabelValues("forecast", "server_error").Observe(0.1)
	UpstreamRetriesTotal.WithLabelValues("current").Inc()
	CacheLookupsTotal.WithLabelValues("current", "hit").Inc()
	CacheFetchesInFlight.WithLabelValues("forecast").Inc()
	CacheFetchesInFlight.WithLabelValues("forecast").Dec()
	CacheFetchDuration.WithLabelValues("current", "success").Observe(0.2)
	CacheBackendErrorsTotal.WithLabelValues("current", "load").Inc()
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("test_component", "closed", "open")
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test_component")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
	RecordCircuitBreakerTransition("test_component", "open", "half-open")
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test_component")); got != 1 {
		t.Errorf("state gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerTransitionsTotal.WithLabelValues("test_component", "closed", "open")); got != 1 {
		t.Errorf("transitions closed->open = %v, want 1", got)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format, including the traffic gauges.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	tracker := traffic.NewTracker(nil)
	tracker.Record(traffic.OutcomeSuccess)
	RegisterTrafficGauges(tracker, time.Minute)
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "trafficRequestsInWindow"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
