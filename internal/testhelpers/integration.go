//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-proxy/internal/cache"
	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/resolver"
	"github.com/kjstillabower/weather-proxy/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// Cities is the city database used by integration tests.
var Cities = []models.City{
	{ID: 3117735, Name: "Madrid", Country: "ES", Coord: models.Coordinates{Lat: 40.4165, Lon: -3.7026}},
	{ID: 2643743, Name: "London", Country: "GB", Coord: models.Coordinates{Lat: 51.5085, Lon: -0.1257}},
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("OPENWEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/3.0/onecall"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationClient creates a live OpenWeather client.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(client.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.APIURL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a WeatherService over a live client and the configured
// cache backend. Falls back to in-memory when memcached is unreachable.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) *service.WeatherService {
	t.Helper()
	var current cache.Backend[models.CurrentWeather] = cache.NewInMemoryBackend[models.CurrentWeather]()
	var forecast cache.Backend[models.Forecast] = cache.NewInMemoryBackend[models.Forecast]()
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcached(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		} else {
			t.Cleanup(func() { _ = mc.Close() })
			current = cache.NewMemcachedBackend[models.CurrentWeather](mc, "it-current")
			forecast = cache.NewMemcachedBackend[models.Forecast](mc, "it-forecast")
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		}
	}
	return service.NewWeatherService(
		SetupIntegrationClient(t, cfg),
		resolver.NewDatabase(Cities),
		current,
		forecast,
		service.Config{TTL: 5 * time.Minute, FetchTimeout: 20 * time.Second},
	)
}
