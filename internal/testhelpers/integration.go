//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	ForecastURL   string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless UPSTREAM_INTEGRATION is set, since it calls the live forecast API.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("UPSTREAM_INTEGRATION") == "" {
		t.Skip("UPSTREAM_INTEGRATION not set, skipping live forecast API test")
	}
	return IntegrationTestConfig{
		ForecastURL:   envOr("FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
		CacheBackend:  envOr("INTEGRATION_CACHE_BACKEND", "in_memory"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
	}
}

// SetupIntegrationStore opens the configured backend, falling back to memory when the
// networked one is not reachable. Closing is registered with t.Cleanup.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) store.Store {
	t.Helper()
	switch cfg.CacheBackend {
	case "memcached":
		s, err := store.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil {
			t.Cleanup(func() { _ = s.Close() })
			t.Logf("Using memcached store at %s", cfg.MemcachedAddr)
			return s
		}
		t.Logf("memcached not available (%v), using in-memory store", err)
	case "redis":
		s, err := store.NewRedisStore(cfg.RedisAddr, 0, 500*time.Millisecond)
		if err == nil {
			t.Cleanup(func() { _ = s.Close() })
			t.Logf("Using redis store at %s", cfg.RedisAddr)
			return s
		}
		t.Logf("redis not available (%v), using in-memory store", err)
	}
	return store.NewMemoryStore(0)
}

// SetupIntegrationClient creates a live forecast client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenMeteoClient {
	t.Helper()
	c, err := client.NewOpenMeteoClient(client.Options{
		BaseURL:        cfg.ForecastURL,
		Timeout:        5 * time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  time.Second,
		HourlyHours:    12,
		DailyDays:      3,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return c
}

// SetupIntegrationManager wires a cache manager over the live client and configured store.
func SetupIntegrationManager(t *testing.T, cfg IntegrationTestConfig) (*service.Manager, store.Store) {
	t.Helper()
	s := SetupIntegrationStore(t, cfg)
	policy := service.DefaultPolicy()
	policy.UpstreamTimeout = 10 * time.Second
	return service.NewManager(SetupIntegrationClient(t, cfg), s, policy, zaptest.NewLogger(t)), s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
