package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-proxy/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather queries accepted by the orchestrator, by kind and units.
	WeatherQueriesTotal *prometheus.CounterVec

	// OpenWeather API calls by kind and status label. One per attempt, retries included.
	UpstreamCallsTotal *prometheus.CounterVec

	// OpenWeather API latency per attempt. Watch for: p95 > 2s (upstream degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against OpenWeather. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Cache lookups by kind and result (hit, miss, coalesced).
	// Hit rate = hit / (hit + miss + coalesced). Coalesced = waited on another caller's fetch.
	CacheLookupsTotal *prometheus.CounterVec

	// Upstream fetches currently owned by the cache store. Never exceeds the number of distinct keys.
	CacheFetchesInFlight *prometheus.GaugeVec

	// Duration of shared fetches by kind and outcome (success, error).
	CacheFetchDuration *prometheus.HistogramVec

	// Backend read/write failures. Reads degrade to a miss, writes are dropped.
	CacheBackendErrorsTotal *prometheus.CounterVec

	// Circuit breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState *prometheus.GaugeVec

	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather queries by kind and units",
		},
		[]string{"kind", "units"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of OpenWeather API calls",
		},
		[]string{"kind", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "OpenWeather API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for OpenWeather API calls",
		},
		[]string{"kind"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Cache lookups by kind and result (hit, miss, coalesced)",
		},
		[]string{"kind", "result"},
	)
	CacheFetchesInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cacheFetchesInFlight",
			Help: "Shared upstream fetches currently in flight",
		},
		[]string{"kind"},
	)
	CacheFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheFetchDurationSeconds",
			Help:    "Duration of shared upstream fetches in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind", "outcome"},
	)
	CacheBackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheBackendErrorsTotal",
			Help: "Cache backend failures by kind and operation (load, save)",
		},
		[]string{"kind", "op"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed target",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherQueriesTotal,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheLookupsTotal, CacheFetchesInFlight, CacheFetchDuration, CacheBackendErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// RegisterTrafficGauges exposes the sliding-window counters used by the health check.
// Safe to call more than once; only the first call registers.
func RegisterTrafficGauges(tracker *traffic.Tracker, window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "trafficRequestsInWindow",
					Help: "Weather requests (success, error, denied) in the health window",
				},
				func() float64 { return float64(tracker.Snapshot(window).Total()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "trafficErrorsInWindow",
					Help: "Failed weather requests in the health window",
				},
				func() float64 { return float64(tracker.Snapshot(window).Errors) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "trafficDeniedInWindow",
					Help: "429 responses in the health window",
				},
				func() float64 { return float64(tracker.Snapshot(window).Denied) },
			),
		)
	})
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(CircuitBreakerStateValue(to))
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
