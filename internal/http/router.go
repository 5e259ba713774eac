package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-proxy/internal/observability"
	"github.com/kjstillabower/weather-proxy/internal/traffic"
)

// RouterConfig carries the shared middleware dependencies.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	Tracker        *traffic.Tracker
	InFlight       *InFlightTracker
	RequestTimeout time.Duration
}

// NewRouter mounts /health, /metrics and the rate-limited query routes.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(cfg.InFlight.Middleware)
	}
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	query := router.NewRoute().Subrouter()
	query.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	if cfg.RequestTimeout > 0 {
		query.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	query.HandleFunc("/weather/{location}", h.GetWeather).Methods(http.MethodGet)
	query.HandleFunc("/forecast/{location}", h.GetForecast).Methods(http.MethodGet)
	return router
}
