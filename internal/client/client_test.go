package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

const testAPIKey = "test-api-key-12345"

var madrid = models.Coordinates{Lat: 40.4165, Lon: -3.7026}

const currentBody = `{
	"lat": 40.4165, "lon": -3.7026, "timezone": "Europe/Madrid",
	"current": {
		"dt": 1718000000, "sunrise": 1717990000, "sunset": 1718040000,
		"temp": 24.3, "feels_like": 23.9, "pressure": 1015, "humidity": 40,
		"dew_point": 9.8, "uvi": 7.1, "clouds": 20, "visibility": 10000,
		"wind_speed": 3.6, "wind_deg": 250,
		"weather": [{"id": 801, "main": "Clouds", "description": "few clouds", "icon": "02d"}]
	}
}`

const forecastBody = `{
	"lat": 40.4165, "lon": -3.7026,
	"hourly": [
		{"dt": 1718000000, "temp": 75.1, "feels_like": 74.0, "pressure": 1015, "humidity": 40, "pop": 0.1,
		 "weather": [{"main": "Clear", "description": "clear sky"}]},
		{"dt": 1718003600, "temp": 73.4, "feels_like": 72.8, "pressure": 1016, "humidity": 45, "pop": 0.3}
	]
}`

func newTestClient(t *testing.T, url string, mutate func(*Config)) *OpenWeatherClient {
	t.Helper()
	cfg := Config{
		APIKey:         testAPIKey,
		BaseURL:        url,
		Timeout:        2 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewOpenWeatherClient(cfg)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{name: "empty API key", apiKey: "", wantErr: ErrInvalidAPIKey},
		{name: "too short API key", apiKey: "short", wantErr: ErrInvalidAPIKey},
		{name: "valid API key", apiKey: "valid-api-key-12345", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(Config{APIKey: tt.apiKey, BaseURL: "https://api.test.com"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
			}
			if client.BreakerState() != "closed" {
				t.Errorf("BreakerState() = %q, want closed", client.BreakerState())
			}
		})
	}
}

// TestOpenWeatherClient_FetchCurrent_Success verifies the request parameters
// and the mapping of the current section.
func TestOpenWeatherClient_FetchCurrent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		want := map[string]string{
			"lat":     "40.4165",
			"lon":     "-3.7026",
			"appid":   testAPIKey,
			"units":   "metric",
			"exclude": "minutely,hourly,daily,alerts",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(currentBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	got, err := c.FetchCurrent(ctx, madrid, models.UnitsCelsius)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got.Temperature != 24.3 || got.Humidity != 40 || got.WindSpeed != 3.6 {
		t.Errorf("FetchCurrent() = %+v, unexpected values", got)
	}
	if got.Units != models.UnitsCelsius || got.Coord != madrid {
		t.Errorf("FetchCurrent() units/coord = %s/%v", got.Units, got.Coord)
	}
	if !got.ObservedAt.Equal(time.Unix(1718000000, 0)) {
		t.Errorf("ObservedAt = %v", got.ObservedAt)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Description != "few clouds" {
		t.Errorf("Conditions = %+v", got.Conditions)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt is zero")
	}
}

func TestOpenWeatherClient_FetchForecast_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("exclude"); got != "current,minutely,daily,alerts" {
			t.Errorf("exclude = %q", got)
		}
		if got := q.Get("units"); got != "imperial" {
			t.Errorf("units = %q, want imperial", got)
		}
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	got, err := c.FetchForecast(context.Background(), madrid, models.UnitsFahrenheit)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if len(got.Hourly) != 2 {
		t.Fatalf("len(Hourly) = %d, want 2", len(got.Hourly))
	}
	if got.Hourly[0].Temperature != 75.1 || got.Hourly[1].Precipitation != 0.3 {
		t.Errorf("Hourly = %+v", got.Hourly)
	}
	if got.Hourly[1].Conditions != nil {
		t.Errorf("Hourly[1].Conditions = %+v, want nil", got.Hourly[1].Conditions)
	}
}

// TestOpenWeatherClient_MissingSection verifies that a 200 response without the
// requested section is ErrUnexpected and is not retried.
func TestOpenWeatherClient_MissingSection(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"lat": 1, "lon": 2}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	if _, err := c.FetchCurrent(context.Background(), madrid, models.UnitsCelsius); !errors.Is(err, ErrUnexpected) {
		t.Errorf("FetchCurrent() error = %v, want ErrUnexpected", err)
	}
	if _, err := c.FetchForecast(context.Background(), madrid, models.UnitsCelsius); !errors.Is(err, ErrUnexpected) {
		t.Errorf("FetchForecast() error = %v, want ErrUnexpected", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestOpenWeatherClient_ErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCalls int32
	}{
		{"401 unauthorized", http.StatusUnauthorized, "", ErrInvalidAPIKey, 1},
		{"404 not found", http.StatusNotFound, "", ErrUnexpected, 1},
		{"400 bad request", http.StatusBadRequest, "", ErrUnexpected, 1},
		{"429 rate limited", http.StatusTooManyRequests, "", ErrRateLimited, 3},
		{"500 server error", http.StatusInternalServerError, "", ErrUnexpected, 3},
		{"503 unavailable", http.StatusServiceUnavailable, "", ErrUnexpected, 3},
		{"malformed JSON", http.StatusOK, "{not json", ErrUnexpected, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, nil)
			_, err := c.FetchCurrent(context.Background(), madrid, models.UnitsCelsius)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchCurrent() error = %v, want %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

// TestOpenWeatherClient_RetryThenSuccess verifies that a transient failure is retried.
func TestOpenWeatherClient_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(currentBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	if _, err := c.FetchCurrent(context.Background(), madrid, models.UnitsCelsius); err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestOpenWeatherClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.Timeout = 30 * time.Millisecond
		cfg.RetryAttempts = 1
	})
	_, err := c.FetchCurrent(context.Background(), madrid, models.UnitsCelsius)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("FetchCurrent() error = %v, want ErrTimeout", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %q, want timeout", CategorizeError(err))
	}
}

func TestOpenWeatherClient_Transport(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newTestClient(t, url, func(cfg *Config) { cfg.RetryAttempts = 1 })
	_, err := c.FetchForecast(context.Background(), madrid, models.UnitsKelvin)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("FetchForecast() error = %v, want ErrTransport", err)
	}
}

// TestOpenWeatherClient_CircuitBreaker verifies that consecutive server failures
// open the circuit and later calls fail fast without reaching the upstream.
func TestOpenWeatherClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.RetryAttempts = 1
		cfg.BreakerFailures = 2
		cfg.BreakerOpenTimeout = time.Minute
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = c.FetchCurrent(ctx, madrid, models.UnitsCelsius)
	}
	if c.BreakerState() != "open" {
		t.Fatalf("BreakerState() = %q, want open", c.BreakerState())
	}

	_, err := c.FetchCurrent(ctx, madrid, models.UnitsCelsius)
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, ErrUnexpected) {
		t.Errorf("FetchCurrent() error = %v, want ErrCircuitOpen", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

// TestOpenWeatherClient_ClientErrorsDoNotTrip verifies that 4xx responses other
// than 429 do not count against the circuit.
func TestOpenWeatherClient_ClientErrorsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *Config) { cfg.BreakerFailures = 1 })
	for i := 0; i < 3; i++ {
		_, _ = c.FetchCurrent(context.Background(), madrid, models.UnitsCelsius)
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
	}
}

func TestOpenWeatherClient_ValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"ok", http.StatusOK, nil},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"server error", http.StatusInternalServerError, ErrUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := newTestClient(t, server.URL, nil).ValidateAPIKey(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateAPIKey() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := newTestClient(t, "https://api.test.com", func(cfg *Config) {
		cfg.RetryBaseDelay = 100 * time.Millisecond
		cfg.RetryMaxDelay = 300 * time.Millisecond
	})
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{5, 300 * time.Millisecond, 330 * time.Millisecond},
	}
	for _, tt := range tests {
		got := c.calculateBackoff(tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[int]string{200: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 302: "error"}
	for code, want := range cases {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
