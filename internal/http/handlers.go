package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
	"github.com/kjstillabower/weather-proxy/internal/service"
	"github.com/kjstillabower/weather-proxy/internal/traffic"
	"github.com/kjstillabower/weather-proxy/internal/validation"
)

const (
	locationMinLength = 3
	locationMaxLength = 100
	defaultUnits      = "C"
)

// WeatherQuerier serves a weather query. Implemented by service.WeatherService.
type WeatherQuerier interface {
	Handle(ctx context.Context, q service.Query) (service.Result, error)
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	Window               time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when the rate limiter is disabled
	DegradedErrorPct     int
	// CachePing, when set, checks cache reachability. Used when the backend is memcached.
	CachePing func() error
	// BreakerState reports the upstream circuit breaker state.
	BreakerState func() string
	CityCount    int
	Version      string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherQuerier
	tracker          *traffic.Tracker
	state            *lifecycle.State
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil, in which case
// /health reports only the lifecycle phase.
func NewHandler(
	weather WeatherQuerier,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(nil)
	}
	if state == nil {
		state = &lifecycle.State{}
	}
	return &Handler{
		weather:      weather,
		tracker:      tracker,
		state:        state,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// weatherResponse is the success envelope for both query kinds.
type weatherResponse struct {
	Location models.City  `json:"location"`
	Units    models.Units `json:"units"`
	Kind     models.Kind  `json:"kind"`
	Data     any          `json:"data"`
}

// GetWeather handles GET /weather/{location}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.KindCurrent)
}

// GetForecast handles GET /forecast/{location}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.KindForecast)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, kind models.Kind) {
	location, err := validation.ValidateLocation(mux.Vars(r)["location"], locationMinLength, locationMaxLength)
	if err != nil {
		h.tracker.Record(traffic.OutcomeSuccess)
		writeQueryError(w, r, err)
		return
	}
	units := r.URL.Query().Get("units")
	if units == "" {
		units = defaultUnits
	}

	result, err := h.weather.Handle(r.Context(), service.Query{
		Location: location,
		Units:    units,
		Kind:     string(kind),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			observability.LoggerFrom(r.Context()).Debug("client went away", zap.Error(err))
			w.WriteHeader(statusClientClosedRequest)
			return
		}
		status := writeQueryError(w, r, err)
		if status >= http.StatusInternalServerError {
			h.tracker.Record(traffic.OutcomeError)
		} else {
			h.tracker.Record(traffic.OutcomeSuccess)
		}
		return
	}
	h.tracker.Record(traffic.OutcomeSuccess)
	writeJSON(w, http.StatusOK, weatherResponse{
		Location: result.City,
		Units:    result.Units,
		Kind:     result.Kind,
		Data:     result.Payload,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	version := "dev"
	if hc := h.healthConfig; hc != nil {
		if hc.BreakerState != nil && hc.BreakerState() == "open" {
			checks["weatherApi"] = "unhealthy"
		}
		if hc.CachePing != nil {
			if hc.CachePing() == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
		if hc.CityCount > 0 {
			checks["cities"] = "healthy"
		} else {
			checks["cities"] = "empty"
		}
		if hc.Version != "" {
			version = hc.Version
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   version,
		"phase":     h.state.Phase().String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > breaker open > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch h.state.Phase() {
	case lifecycle.PhaseDraining:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "not_ready"}
	}
	hc := h.healthConfig
	if hc == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if hc.BreakerState != nil && hc.BreakerState() == "open" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if hc.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	counts := h.tracker.Snapshot(hc.Window)
	if hc.RateLimitRPS > 0 && hc.OverloadThresholdPct > 0 {
		threshold := float64(hc.RateLimitRPS) * hc.Window.Seconds() * float64(hc.OverloadThresholdPct) / 100
		if float64(counts.Total()) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if hc.DegradedErrorPct > 0 && counts.Errors > 0 && counts.ErrorPct() >= float64(hc.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope. requestId is the correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeQueryError maps err to a status and code, writes the envelope and returns
// the status. The underlying error is logged at debug and never echoed.
func writeQueryError(w http.ResponseWriter, r *http.Request, err error) int {
	resp := classifyError(err)
	observability.LoggerFrom(r.Context()).Debug("query failed",
		zap.String("code", resp.code),
		zap.Error(err))
	writeError(w, r, resp.status, resp.code, resp.message)
	return resp.status
}
