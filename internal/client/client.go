package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// WeatherClient fetches normalized weather for resolved coordinates.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, coord models.Coordinates, units models.Units) (models.CurrentWeather, error)
	FetchForecast(ctx context.Context, coord models.Coordinates, units models.Units) (models.Forecast, error)
}

// Upstream failure classes. Every error returned by OpenWeatherClient matches
// exactly one of ErrTimeout, ErrTransport, ErrRateLimited or ErrUnexpected.
var (
	ErrTimeout     = errors.New("upstream timeout")
	ErrTransport   = errors.New("upstream transport failure")
	ErrRateLimited = errors.New("upstream rate limited")
	ErrUnexpected  = errors.New("unexpected upstream response")

	ErrInvalidAPIKey = fmt.Errorf("invalid API key: %w", ErrUnexpected)
	ErrCircuitOpen   = fmt.Errorf("circuit breaker open: %w", ErrUnexpected)

	errServerError = fmt.Errorf("server error: %w", ErrUnexpected)
)

const (
	breakerName = "openweather"

	excludeCurrent  = "minutely,hourly,daily,alerts"
	excludeForecast = "current,minutely,daily,alerts"
)

// validationCoord is used by ValidateAPIKey (London).
var validationCoord = models.Coordinates{Lat: 51.5085, Lon: -0.1257}

// Config holds the read-only client configuration. Zero values take defaults.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a single attempt.
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// BreakerFailures consecutive tripping failures open the circuit for BreakerOpenTimeout.
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
	// BreakerHalfOpenRequests are let through while half-open.
	BreakerHalfOpenRequests uint32
}

type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	breaker        *gobreaker.CircuitBreaker
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	now            func() time.Time
}

func NewOpenWeatherClient(cfg Config) (*OpenWeatherClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	if cfg.BreakerHalfOpenRequests == 0 {
		cfg.BreakerHalfOpenRequests = 1
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.BreakerHalfOpenRequests,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})
	observability.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &OpenWeatherClient{
		apiKey:         cfg.APIKey,
		apiURL:         cfg.BaseURL,
		timeout:        cfg.Timeout,
		client:         &http.Client{Timeout: cfg.Timeout},
		breaker:        breaker,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		now:            time.Now,
	}, nil
}

// BreakerState returns "closed", "half-open" or "open".
func (c *OpenWeatherClient) BreakerState() string {
	return c.breaker.State().String()
}

type owCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owCurrent struct {
	Dt         int64         `json:"dt"`
	Sunrise    int64         `json:"sunrise"`
	Sunset     int64         `json:"sunset"`
	Temp       float64       `json:"temp"`
	FeelsLike  float64       `json:"feels_like"`
	Pressure   int           `json:"pressure"`
	Humidity   int           `json:"humidity"`
	DewPoint   float64       `json:"dew_point"`
	UVI        float64       `json:"uvi"`
	Clouds     int           `json:"clouds"`
	Visibility int           `json:"visibility"`
	WindSpeed  float64       `json:"wind_speed"`
	WindDeg    int           `json:"wind_deg"`
	Weather    []owCondition `json:"weather"`
}

type owHourly struct {
	Dt         int64         `json:"dt"`
	Temp       float64       `json:"temp"`
	FeelsLike  float64       `json:"feels_like"`
	Pressure   int           `json:"pressure"`
	Humidity   int           `json:"humidity"`
	DewPoint   float64       `json:"dew_point"`
	Clouds     int           `json:"clouds"`
	Visibility int           `json:"visibility"`
	WindSpeed  float64       `json:"wind_speed"`
	WindDeg    int           `json:"wind_deg"`
	Pop        float64       `json:"pop"`
	Weather    []owCondition `json:"weather"`
}

type oneCallResponse struct {
	Lat     float64    `json:"lat"`
	Lon     float64    `json:"lon"`
	Current *owCurrent `json:"current"`
	Hourly  []owHourly `json:"hourly"`
}

// FetchCurrent returns current conditions at coord.
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, coord models.Coordinates, units models.Units) (models.CurrentWeather, error) {
	resp, err := c.fetch(ctx, models.KindCurrent, coord, units)
	if err != nil {
		return models.CurrentWeather{}, err
	}
	if resp.Current == nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: response has no current section", ErrUnexpected)
	}
	cur := resp.Current
	return models.CurrentWeather{
		Coord:       coord,
		Units:       units,
		ObservedAt:  unixTime(cur.Dt),
		Sunrise:     unixTime(cur.Sunrise),
		Sunset:      unixTime(cur.Sunset),
		Temperature: cur.Temp,
		FeelsLike:   cur.FeelsLike,
		Pressure:    cur.Pressure,
		Humidity:    cur.Humidity,
		DewPoint:    cur.DewPoint,
		UVIndex:     cur.UVI,
		Clouds:      cur.Clouds,
		Visibility:  cur.Visibility,
		WindSpeed:   cur.WindSpeed,
		WindDeg:     cur.WindDeg,
		Conditions:  mapConditions(cur.Weather),
		FetchedAt:   c.now(),
	}, nil
}

// FetchForecast returns the hourly forecast at coord.
func (c *OpenWeatherClient) FetchForecast(ctx context.Context, coord models.Coordinates, units models.Units) (models.Forecast, error) {
	resp, err := c.fetch(ctx, models.KindForecast, coord, units)
	if err != nil {
		return models.Forecast{}, err
	}
	if len(resp.Hourly) == 0 {
		return models.Forecast{}, fmt.Errorf("%w: response has no hourly section", ErrUnexpected)
	}
	hourly := make([]models.HourlyForecast, 0, len(resp.Hourly))
	for _, h := range resp.Hourly {
		hourly = append(hourly, models.HourlyForecast{
			Time:          unixTime(h.Dt),
			Temperature:   h.Temp,
			FeelsLike:     h.FeelsLike,
			Pressure:      h.Pressure,
			Humidity:      h.Humidity,
			DewPoint:      h.DewPoint,
			Clouds:        h.Clouds,
			Visibility:    h.Visibility,
			WindSpeed:     h.WindSpeed,
			WindDeg:       h.WindDeg,
			Precipitation: h.Pop,
			Conditions:    mapConditions(h.Weather),
		})
	}
	return models.Forecast{
		Coord:     coord,
		Units:     units,
		Hourly:    hourly,
		FetchedAt: c.now(),
	}, nil
}

func (c *OpenWeatherClient) fetch(ctx context.Context, kind models.Kind, coord models.Coordinates, units models.Units) (oneCallResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(string(kind)).Inc()
			timer := time.NewTimer(c.calculateBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return oneCallResponse{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			case <-timer.C:
			}
		}

		result, err := c.callAPI(ctx, kind, coord, units)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return oneCallResponse{}, err
		}
	}

	return oneCallResponse{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

// attempt carries a completed exchange out of the breaker. err holds failures
// that do not count against the circuit (4xx other than 429).
type attempt struct {
	body []byte
	err  error
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, kind models.Kind, coord models.Coordinates, units models.Units) (oneCallResponse, error) {
	start := time.Now()
	status := "error"
	defer func() {
		observability.UpstreamCallsTotal.WithLabelValues(string(kind), status).Inc()
		observability.UpstreamDuration.WithLabelValues(string(kind), status).Observe(time.Since(start).Seconds())
	}()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, coord, units, excludeFor(kind))
	if err != nil {
		return oneCallResponse{}, fmt.Errorf("%w: build request: %v", ErrUnexpected, err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		defer resp.Body.Close()
		status = statusLabel(resp.StatusCode)

		if err := handleErrorResponse(resp); err != nil {
			if errors.Is(err, ErrRateLimited) || errors.Is(err, errServerError) {
				return nil, err
			}
			return attempt{err: err}, nil
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		return attempt{body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "circuit_open"
			return oneCallResponse{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return oneCallResponse{}, err
	}

	a := out.(attempt)
	if a.err != nil {
		return oneCallResponse{}, a.err
	}
	var apiResp oneCallResponse
	if err := json.Unmarshal(a.body, &apiResp); err != nil {
		return oneCallResponse{}, fmt.Errorf("%w: parse response: %v", ErrUnexpected, err)
	}
	return apiResp, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, errServerError)
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func excludeFor(kind models.Kind) string {
	if kind == models.KindForecast {
		return excludeForecast
	}
	return excludeCurrent
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, coord models.Coordinates, units models.Units, exclude string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coord.Lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", units.Upstream())
	params.Set("exclude", exclude)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUnexpected, resp.StatusCode)
	}
	return nil
}

func mapConditions(in []owCondition) []models.Condition {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Condition, len(in))
	for i, w := range in {
		out[i] = models.Condition{Main: w.Main, Description: w.Description}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one unretried call to confirm the key is accepted.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, validationCoord, models.UnitsCelsius, excludeCurrent)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", classifyTransportError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: validation failed: HTTP %d", ErrUnexpected, resp.StatusCode)
	}

	return nil
}
