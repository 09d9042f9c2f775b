package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/config"
	httphandler "github.com/kjstillabower/weather-cache-service/internal/http"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/refresh"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

const warmTimeout = 30 * time.Second

func main() {
	lifecycle.SetPhase(lifecycle.PhaseStarting)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.EnvName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	weatherClient, err := client.NewOpenMeteoClient(client.Options{
		BaseURL:        cfg.ForecastURL,
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		HourlyHours:    cfg.HourlyHours,
		DailyDays:      cfg.DailyDays,
	})
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = newBreaker(cfg, logger)
		weatherClient.SetCircuitBreaker(breaker)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	backing, closer, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}

	manager := service.NewManager(weatherClient, backing, service.Policy{
		Current:         cfg.CurrentFreshness,
		Hourly:          cfg.HourlyFreshness,
		Daily:           cfg.DailyFreshness,
		UpstreamTimeout: cfg.UpstreamTimeout,
	}, logger)

	observability.RegisterHealthGauges(cfg.DegradedWindow)
	observability.SetTrackedLocations(cfg.TrackedLocations)

	locations, err := buildLocations(cfg.RefreshLocations)
	if err != nil {
		logger.Fatal("refresh locations", zap.Error(err))
	}
	warmer := refresh.NewWarmer(manager, logger)
	if cfg.WarmOnStart && len(locations) > 0 {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), warmTimeout)
		if err := warmer.Warm(warmCtx, locations); err != nil {
			logger.Warn("cache warming incomplete", zap.Error(err))
		}
		warmCancel()
	}
	var scheduler *refresh.Scheduler
	if cfg.RefreshInterval > 0 {
		scheduler = refresh.NewScheduler(warmer, locations, cfg.RefreshInterval, logger)
		if err := scheduler.Start(); err != nil {
			logger.Fatal("refresh scheduler", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}
	if breaker != nil {
		healthConfig.BreakerState = breaker.State
	}
	handler := httphandler.NewHandler(manager, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		AdminEnabled:   cfg.AdminEnabled,
	})
	if cfg.AdminEnabled {
		logger.Warn("admin routes enabled; DELETE /api/weather/{kind} exposed")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetPhase(lifecycle.PhaseServing)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("shutdown complete", zap.Duration("uptime", lifecycle.Uptime()))
	if err := observability.FlushTelemetry(logger, closer); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// openStore builds the configured backing store. The closer is nil for the in-memory store.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, io.Closer, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := store.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached: %w", err)
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	case "redis":
		rs, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.RedisTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return rs, rs, nil
	default:
		ms := store.NewMemoryStore(cfg.MaxLocations)
		ms.OnEvict(func(key models.LocationKey) {
			logger.Debug("location evicted", zap.String("location", key.String()))
		})
		logger.Info("cache backend: in_memory", zap.Int("max_locations", cfg.MaxLocations))
		return ms, nil, nil
	}
}

func newBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	const component = "upstream"
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsFailure: breakerFailure,
	})
}

// breakerFailure counts only errors that point at upstream health. Client-side 4xx
// and payload problems do not open the circuit.
func breakerFailure(err error) bool {
	switch client.CategorizeError(err) {
	case client.ErrorCategoryUpstream4xx, client.ErrorCategoryMalformed:
		return false
	}
	return true
}

func buildLocations(cfgs []config.LocationConfig) ([]models.Location, error) {
	locations := make([]models.Location, 0, len(cfgs))
	for _, lc := range cfgs {
		loc, err := models.NewLocation(lc.Name, lc.Latitude, lc.Longitude)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", lc.Name, err)
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
