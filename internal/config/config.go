package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	WeatherAPIKey     string        `validate:"required,min=10"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0s"`

	RequestTimeout time.Duration `validate:"gt=0s"`

	CacheTTL          time.Duration `validate:"gt=0s"`
	CacheFetchTimeout time.Duration `validate:"gt=0s"`
	CacheBackend      string        `validate:"oneof=in_memory memcached"`

	MemcachedAddrs        string `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int `validate:"gte=0"`

	CitiesPath string `validate:"required"`

	RetryAttempts      int `validate:"gte=1,lte=10"`
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration `validate:"gtefield=RetryBaseDelay"`
	BreakerFailures    uint32        `validate:"gte=1"`
	BreakerOpenTimeout time.Duration `validate:"gt=0s"`
	RateLimitRPS       int           `validate:"gte=1"`
	RateLimitBurst     int           `validate:"gte=1"`

	ShutdownTimeout time.Duration `validate:"gt=0s"`

	HealthWindow         time.Duration `validate:"gt=0s"`
	OverloadThresholdPct int           `validate:"gte=1,lte=100"`
	DegradedErrorPct     int           `validate:"gte=1,lte=100"`

	WarmLocations  []string `validate:"dive,required"`
	WarmUnits      string   `validate:"oneof=C F K"`
	WarmInterval   time.Duration
	WarmRunTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		FetchTimeout string `yaml:"fetch_timeout"`
		Memcached    struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Locations  []string `yaml:"locations"`
			Units      string   `yaml:"units"`
			Interval   string   `yaml:"interval"`
			RunTimeout string   `yaml:"run_timeout"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Cities struct {
		Path string `yaml:"path"`
	} `yaml:"cities"`

	Reliability struct {
		RetryMaxAttempts   int    `yaml:"retry_max_attempts"`
		RetryBaseDelay     string `yaml:"retry_base_delay"`
		RetryMaxDelay      string `yaml:"retry_max_delay"`
		BreakerFailures    uint32 `yaml:"breaker_failures"`
		BreakerOpenTimeout string `yaml:"breaker_open_timeout"`
		RateLimitRPS       int    `yaml:"rate_limit_rps"`
		RateLimitBurst     int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window               string `yaml:"window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
}

var validate = validator.New()

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after loading .env into the environment if present. The API key comes from
// OPENWEATHER_API_KEY or the secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/3.0/onecall"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheBackend = envOr("CACHE_BACKEND", fc.Cache.Backend, "in_memory")
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CitiesPath = envOr("CITIES_PATH", fc.Cities.Path, "data/city.list.json")

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.BreakerFailures = fc.Reliability.BreakerFailures
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, 30*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	// A shared fetch may span every retry; bound it accordingly unless configured.
	attempts := time.Duration(cfg.RetryAttempts)
	cfg.CacheFetchTimeout = parseDuration(fc.Cache.FetchTimeout, attempts*cfg.WeatherAPITimeout+attempts*cfg.RetryMaxDelay)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.WarmLocations = fc.Cache.Warm.Locations
	cfg.WarmUnits = strings.ToUpper(strings.TrimSpace(fc.Cache.Warm.Units))
	if cfg.WarmUnits == "" {
		cfg.WarmUnits = "C"
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)
	cfg.WarmRunTimeout = parseDuration(fc.Cache.Warm.RunTimeout, 30*time.Second)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKey(cwd string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("OPENWEATHER_API_KEY")); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	if err == nil {
		var sec secretsFile
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return "", fmt.Errorf("parse secrets file: %w", err)
		}
		if key := strings.TrimSpace(sec.OpenWeatherAPIKey); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("OPENWEATHER_API_KEY required (set env, .env or config/secrets.yaml openweather_api_key)")
}

// envOr returns the trimmed env value for name, else fileVal, else def.
func envOr(name, fileVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fileVal); v != "" {
		return v
	}
	return def
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validateConfig adjusts RequestTimeout to exceed WeatherAPITimeout, then checks struct tags.
func validateConfig(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
