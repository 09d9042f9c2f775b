package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and environment.
type Config struct {
	EnvName    string
	LogLevel   string `validate:"oneof=DEBUG INFO WARN ERROR"`
	ServerPort string `validate:"required,numeric"`

	ForecastURL     string        `validate:"required,url"`
	UpstreamTimeout time.Duration `validate:"min=1s,max=15s"`
	HourlyHours     int           `validate:"min=1,max=384"`
	DailyDays       int           `validate:"min=1,max=16"`

	RequestTimeout time.Duration `validate:"gt=0"`

	CacheBackend     string        `validate:"oneof=in_memory memcached redis"`
	MaxLocations     int           `validate:"min=0"`
	CurrentFreshness time.Duration `validate:"gt=0"`
	HourlyFreshness  time.Duration `validate:"gt=0"`
	DailyFreshness   time.Duration `validate:"gt=0"`

	MemcachedAddrs        string `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr    string `validate:"required_if=CacheBackend redis"`
	RedisDB      int    `validate:"min=0,max=15"`
	RedisTimeout time.Duration

	RetryAttempts  int `validate:"min=1,max=10"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int `validate:"min=0"`
	RateLimitBurst int `validate:"min=0"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int `validate:"min=1"`
	CircuitBreakerSuccessThreshold int `validate:"min=1"`
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	WarmOnStart      bool
	RefreshInterval  time.Duration
	RefreshLocations []LocationConfig `validate:"dive"`

	DegradedWindow   time.Duration
	DegradedErrorPct int `validate:"min=1,max=100"`

	AdminEnabled bool

	TrackedLocations []string
}

// LocationConfig is a location kept warm by the background refresher.
type LocationConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Latitude  float64 `yaml:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `yaml:"longitude" validate:"min=-180,max=180"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Upstream struct {
		ForecastURL string `yaml:"forecast_url"`
		Timeout     string `yaml:"timeout"`
		HourlyHours int    `yaml:"hourly_hours"`
		DailyDays   int    `yaml:"daily_days"`
	} `yaml:"upstream"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		MaxLocations int    `yaml:"max_locations"`
		Freshness    struct {
			Current string `yaml:"current"`
			Hourly  string `yaml:"hourly"`
			Daily   string `yaml:"daily"`
		} `yaml:"freshness"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Refresh struct {
		WarmOnStart bool             `yaml:"warm_on_start"`
		Interval    string           `yaml:"interval"`
		Locations   []LocationConfig `yaml:"locations"`
	} `yaml:"refresh"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Admin struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"admin"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

var structValidator = validator.New()

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev). Environment
// variables CACHE_BACKEND, MEMCACHED_ADDRS, REDIS_ADDR, SERVER_PORT and LOG_LEVEL override
// the file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
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

	cfg := &Config{EnvName: env}

	cfg.ServerPort = envOr("SERVER_PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.LogLevel = strings.ToUpper(envOr("LOG_LEVEL", fc.Log.Level))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}

	cfg.ForecastURL = strings.TrimSpace(fc.Upstream.ForecastURL)
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 10*time.Second)
	cfg.HourlyHours = intOr(fc.Upstream.HourlyHours, 24)
	cfg.DailyDays = intOr(fc.Upstream.DailyDays, 7)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 12*time.Second)

	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MaxLocations = fc.Cache.MaxLocations
	cfg.CurrentFreshness = parseDuration(fc.Cache.Freshness.Current, 10*time.Minute)
	cfg.HourlyFreshness = parseDuration(fc.Cache.Freshness.Hourly, 60*time.Minute)
	cfg.DailyFreshness = parseDuration(fc.Cache.Freshness.Daily, 6*time.Hour)

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = intOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Cache.Redis.Addr)
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.RetryAttempts = intOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = intOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = intOr(fc.Reliability.RateLimitBurst, 250)

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = intOr(cb.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = intOr(cb.SuccessThreshold, 1)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.WarmOnStart = fc.Refresh.WarmOnStart
	cfg.RefreshInterval = parseDurationOrZero(fc.Refresh.Interval, 0)
	cfg.RefreshLocations = fc.Refresh.Locations

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = intOr(fc.Health.DegradedErrorPct, 5)

	cfg.AdminEnabled = fc.Admin.Enabled

	cfg.TrackedLocations = append(cfg.TrackedLocations, fc.Metrics.TrackedLocations...)
	for _, loc := range cfg.RefreshLocations {
		cfg.TrackedLocations = append(cfg.TrackedLocations, loc.Name)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
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
// Returns zero or negative durations as-is (caller should handle fallback).
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

// validate performs post-load validation of configuration values.
// Auto-adjusts RequestTimeout to exceed UpstreamTimeout and RetryMaxDelay to be at least
// RetryBaseDelay, then checks struct constraints.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + 2*time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
