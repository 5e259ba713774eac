package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-proxy/internal/cache"
	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/config"
	httphandler "github.com/kjstillabower/weather-proxy/internal/http"
	"github.com/kjstillabower/weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
	"github.com/kjstillabower/weather-proxy/internal/resolver"
	"github.com/kjstillabower/weather-proxy/internal/service"
	"github.com/kjstillabower/weather-proxy/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const inFlightCheckInterval = 50 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var state lifecycle.State

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	cities, err := resolver.Load(loadCtx, cfg.CitiesPath)
	loadCancel()
	if err != nil {
		logger.Fatal("city database", zap.String("path", cfg.CitiesPath), zap.Error(err))
	}
	logger.Info("city database loaded", zap.String("path", cfg.CitiesPath), zap.Int("cities", cities.Len()))

	weatherClient, err := client.NewOpenWeatherClient(client.Config{
		APIKey:             cfg.WeatherAPIKey,
		BaseURL:            cfg.WeatherAPIURL,
		Timeout:            cfg.WeatherAPITimeout,
		RetryAttempts:      cfg.RetryAttempts,
		RetryBaseDelay:     cfg.RetryBaseDelay,
		RetryMaxDelay:      cfg.RetryMaxDelay,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if err := weatherClient.ValidateAPIKey(context.Background()); err != nil {
		logger.Warn("API key validation failed", zap.Error(err))
	}

	var (
		currentBackend  cache.Backend[models.CurrentWeather]
		forecastBackend cache.Backend[models.Forecast]
		memcached       *cache.Memcached
	)
	switch cfg.CacheBackend {
	case "memcached":
		memcached = cache.NewMemcached(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := memcached.Ping(); err != nil {
			logger.Fatal("memcached cache", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		currentBackend = cache.NewMemcachedBackend[models.CurrentWeather](memcached, string(models.KindCurrent))
		forecastBackend = cache.NewMemcachedBackend[models.Forecast](memcached, string(models.KindForecast))
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		currentBackend = cache.NewInMemoryBackend[models.CurrentWeather]()
		forecastBackend = cache.NewInMemoryBackend[models.Forecast]()
		logger.Info("cache backend: in_memory")
	}

	weatherService := service.NewWeatherService(weatherClient, cities, currentBackend, forecastBackend, service.Config{
		TTL:          cfg.CacheTTL,
		FetchTimeout: cfg.CacheFetchTimeout,
	})

	stopWarming := func() {}
	if len(cfg.WarmLocations) > 0 {
		units, err := models.ParseUnits(cfg.WarmUnits)
		if err != nil {
			logger.Fatal("cache warming units", zap.Error(err))
		}
		targets := make([]cache.WarmTarget, 0, len(cfg.WarmLocations))
		for _, loc := range cfg.WarmLocations {
			targets = append(targets, cache.WarmTarget{Location: strings.TrimSpace(loc), Units: units})
		}
		warmer := cache.NewWarmer(weatherService, targets, logger)
		if cfg.WarmInterval > 0 {
			stop, err := warmer.Start(cfg.WarmInterval, cfg.WarmRunTimeout)
			if err != nil {
				logger.Fatal("cache warming", zap.Error(err))
			}
			stopWarming = stop
		} else {
			warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.WarmRunTimeout)
			if err := warmer.Warm(warmCtx); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}

	tracker := traffic.NewTracker(nil)
	observability.RegisterTrafficGauges(tracker, cfg.HealthWindow)

	healthConfig := &httphandler.HealthConfig{
		Window:               cfg.HealthWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		BreakerState:         weatherClient.BreakerState,
		CityCount:            cities.Len(),
		Version:              version,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(weatherService, tracker, &state, healthConfig, logger)

	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Tracker:        tracker,
		InFlight:       inFlight,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	state.Serve()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.Drain()
	stopWarming()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests",
		zap.Int64("requests", inFlight.Count()),
		zap.Int("fetches", weatherService.InFlight()))
	if err := inFlight.WaitForZero(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	if err := observability.Flush(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "log flush: %v\n", err)
	}
}
