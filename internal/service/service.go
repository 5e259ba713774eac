package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/cache"
	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// Resolver maps a "City,CC" query to a city. Implemented by resolver.Database.
type Resolver interface {
	Lookup(query string) (models.City, error)
}

// Query is a parsed inbound request. Units and Kind are validated by Handle.
type Query struct {
	Location string
	Units    string
	Kind     string
}

// Result is a served query. Payload is models.CurrentWeather or models.Forecast,
// returned exactly as the upstream client produced it.
type Result struct {
	City    models.City
	Units   models.Units
	Kind    models.Kind
	Payload any
}

// Config configures the per-kind stores.
type Config struct {
	TTL time.Duration
	// FetchTimeout bounds a shared upstream fetch (0 = client timeouts only).
	FetchTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// WeatherService is the process-wide request orchestrator. It owns one
// single-flight store per query kind; all cache writes pass through them.
type WeatherService struct {
	client   client.WeatherClient
	resolver Resolver
	current  *cache.Store[models.CacheKey, models.CurrentWeather]
	forecast *cache.Store[models.CacheKey, models.Forecast]
}

// NewWeatherService wires the stores over the given backends.
func NewWeatherService(
	c client.WeatherClient,
	r Resolver,
	currentBackend cache.Backend[models.CurrentWeather],
	forecastBackend cache.Backend[models.Forecast],
	cfg Config,
) *WeatherService {
	return &WeatherService{
		client:   c,
		resolver: r,
		current: cache.NewStore[models.CacheKey, models.CurrentWeather](currentBackend, cache.StoreConfig{
			Name:         string(models.KindCurrent),
			TTL:          cfg.TTL,
			FetchTimeout: cfg.FetchTimeout,
			Now:          cfg.Now,
		}),
		forecast: cache.NewStore[models.CacheKey, models.Forecast](forecastBackend, cache.StoreConfig{
			Name:         string(models.KindForecast),
			TTL:          cfg.TTL,
			FetchTimeout: cfg.FetchTimeout,
			Now:          cfg.Now,
		}),
	}
}

// Handle validates units and kind, resolves the location and serves the query
// from the matching store. Unit and kind errors are returned before any I/O.
// Resolver and upstream errors are returned unchanged.
func (s *WeatherService) Handle(ctx context.Context, q Query) (Result, error) {
	units, err := models.ParseUnits(q.Units)
	if err != nil {
		return Result{}, err
	}
	kind, err := models.ParseKind(q.Kind)
	if err != nil {
		return Result{}, err
	}

	res := Result{Units: units, Kind: kind}
	switch kind {
	case models.KindForecast:
		res.City, res.Payload, err = s.Forecast(ctx, q.Location, units)
	default:
		res.City, res.Payload, err = s.Current(ctx, q.Location, units)
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Current serves current conditions for a "City,CC" location.
func (s *WeatherService) Current(ctx context.Context, location string, units models.Units) (models.City, models.CurrentWeather, error) {
	city, key, err := s.prepare(ctx, location, units, models.KindCurrent)
	if err != nil {
		return models.City{}, models.CurrentWeather{}, err
	}
	start := time.Now()
	data, err := s.current.GetOrFetch(ctx, key, func(ctx context.Context) (models.CurrentWeather, error) {
		return s.client.FetchCurrent(ctx, city.Coord, units)
	})
	s.logServed(ctx, key, start, err)
	if err != nil {
		return models.City{}, models.CurrentWeather{}, err
	}
	return city, data, nil
}

// Forecast serves the hourly forecast for a "City,CC" location.
func (s *WeatherService) Forecast(ctx context.Context, location string, units models.Units) (models.City, models.Forecast, error) {
	city, key, err := s.prepare(ctx, location, units, models.KindForecast)
	if err != nil {
		return models.City{}, models.Forecast{}, err
	}
	start := time.Now()
	data, err := s.forecast.GetOrFetch(ctx, key, func(ctx context.Context) (models.Forecast, error) {
		return s.client.FetchForecast(ctx, city.Coord, units)
	})
	s.logServed(ctx, key, start, err)
	if err != nil {
		return models.City{}, models.Forecast{}, err
	}
	return city, data, nil
}

// Prefetch loads both kinds for location into the stores. Used by the cache warmer.
func (s *WeatherService) Prefetch(ctx context.Context, location string, units models.Units) error {
	_, _, errCurrent := s.Current(ctx, location, units)
	_, _, errForecast := s.Forecast(ctx, location, units)
	if errCurrent != nil || errForecast != nil {
		return fmt.Errorf("prefetch %s: %w", location, errors.Join(errCurrent, errForecast))
	}
	return nil
}

// InFlight returns the number of upstream fetches currently running.
func (s *WeatherService) InFlight() int {
	return s.current.InFlight() + s.forecast.InFlight()
}

func (s *WeatherService) prepare(ctx context.Context, location string, units models.Units, kind models.Kind) (models.City, models.CacheKey, error) {
	observability.WeatherQueriesTotal.WithLabelValues(string(kind), string(units)).Inc()
	city, err := s.resolver.Lookup(location)
	if err != nil {
		observability.LoggerFrom(ctx).Debug("location not resolved", zap.String("location", location), zap.Error(err))
		return models.City{}, models.CacheKey{}, err
	}
	return city, models.NewCacheKey(city, units, kind), nil
}

func (s *WeatherService) logServed(ctx context.Context, key models.CacheKey, start time.Time, err error) {
	logger := observability.LoggerFrom(ctx)
	if err != nil {
		logger.Debug("weather query failed",
			zap.Stringer("key", key),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return
	}
	logger.Debug("weather served", zap.Stringer("key", key), zap.Duration("duration", time.Since(start)))
}
