package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	"github.com/kjstillabower/weather-cache-service/internal/traffic"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

const staleWarning = `110 - "Response is Stale"`

// WeatherService is the cache manager surface the handlers need.
type WeatherService interface {
	Get(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error)
	Refresh(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error)
	Clear(ctx context.Context, key models.LocationKey, kind models.Kind) error
	Ping(ctx context.Context) error
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// BreakerState, when set, reports the upstream circuit breaker state.
	BreakerState func() circuitbreaker.State
	// PingTimeout bounds the backing store ping. Defaults to 2s.
	PingTimeout time.Duration
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	cityMinLength    int
	cityMaxLength    int
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weather WeatherService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:       weather,
		healthConfig:  healthConfig,
		logger:        logger,
		cityMinLength: validation.DefaultCityMinLength,
		cityMaxLength: validation.DefaultCityMaxLength,
	}
}

type weatherResponse struct {
	Data      interface{} `json:"data"`
	Stale     bool        `json:"stale"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// GetWeather returns the handler for GET /api/weather[/hourly|/daily]?lat=&lon=&city=.
func (h *Handler) GetWeather(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, ok := h.parseLocation(w, r)
		if !ok {
			return
		}
		snap, err := h.weather.Get(r.Context(), loc, kind)
		if err != nil {
			traffic.Record(traffic.OutcomeFailure)
			writeServiceError(w, r, err)
			return
		}
		if snap.Stale {
			traffic.Record(traffic.OutcomeStale)
		} else {
			traffic.Record(traffic.OutcomeSuccess)
		}
		writeSnapshot(w, snap)
	}
}

// PostRefresh handles POST /api/weather/{kind}/refresh?lat=&lon=&city=.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(w, r)
	if !ok {
		return
	}
	loc, ok := h.parseLocation(w, r)
	if !ok {
		return
	}
	snap, err := h.weather.Refresh(r.Context(), loc, kind)
	if err != nil {
		traffic.Record(traffic.OutcomeFailure)
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.OutcomeSuccess)
	writeSnapshot(w, snap)
}

// DeleteCache handles DELETE /api/weather/{kind}?city= or ?lat=&lon=.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var key models.LocationKey
	if strings.TrimSpace(q.Get("lat")) != "" || strings.TrimSpace(q.Get("lon")) != "" {
		loc, ok := h.parseLocation(w, r)
		if !ok {
			return
		}
		key = loc.Key
	} else {
		city, err := validation.ValidateCity(q.Get("city"), h.cityMinLength, h.cityMaxLength)
		if err == nil {
			key, err = models.NewLocationKey(city)
		}
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "city or lat and lon are required")
			return
		}
	}
	if err := h.weather.Clear(r.Context(), key, kind); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseLocation(w http.ResponseWriter, r *http.Request) (models.Location, bool) {
	q := r.URL.Query()
	loc, err := validation.ParseLocation(q.Get("city"), q.Get("lat"), q.Get("lon"), h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return models.Location{}, false
	}
	return loc, true
}

func parseKind(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind, err := models.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_KIND", "kind must be current, hourly or daily")
		return "", false
	}
	return kind, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":        result.status,
		"service":       "weather-cache-service",
		"version":       "dev",
		"phase":         lifecycle.CurrentPhase().String(),
		"uptimeSeconds": int64(lifecycle.Uptime().Seconds()),
		"checks":        result.checks,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > store unreachable > circuit open > failure rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", map[string]string{}}
	}
	cfg := h.healthConfig
	if cfg == nil {
		cfg = &HealthConfig{}
	}
	checks := map[string]string{"store": "healthy", "upstream": "healthy"}
	result := healthResult{"healthy", http.StatusOK, "", checks}
	degrade := func(reason string) {
		if result.reason == "" {
			result = healthResult{"degraded", http.StatusServiceUnavailable, reason, checks}
		}
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := h.weather.Ping(pingCtx)
	cancel()
	if err != nil {
		checks["store"] = "unhealthy"
		degrade("store_unreachable")
	}

	if cfg.BreakerState != nil {
		state := cfg.BreakerState()
		checks["circuitBreaker"] = state.String()
		if state == circuitbreaker.StateOpen {
			checks["upstream"] = "unhealthy"
			degrade("circuit_open")
		}
	}

	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		unhealthy, total := traffic.FailureRate(cfg.DegradedWindow)
		if total > 0 && float64(unhealthy)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			checks["upstream"] = "unhealthy"
			degrade("error_rate_breach")
		}
	}
	return result
}

func writeSnapshot(w http.ResponseWriter, snap models.Snapshot) {
	if snap.Stale {
		w.Header().Set("Warning", staleWarning)
	}
	writeJSON(w, http.StatusOK, weatherResponse{Data: snap.Data(), Stale: snap.Stale, FetchedAt: snap.FetchedAt})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps manager errors onto status codes. The underlying error is logged
// at DEBUG with the request's logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL", "Internal error"
	switch {
	case errors.Is(err, service.ErrInvalidLocation):
		status, code, message = http.StatusBadRequest, "INVALID_LOCATION", err.Error()
	case errors.Is(err, service.ErrUnknownKind):
		status, code, message = http.StatusBadRequest, "INVALID_KIND", err.Error()
	case errors.Is(err, store.ErrStoreUnavailable):
		status, code, message = http.StatusInternalServerError, "STORE_UNAVAILABLE", "Weather cache unavailable"
	case errors.Is(err, service.ErrUpstreamUnavailable), errors.Is(err, service.ErrRefreshFailed),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, code, message = http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	}
	writeError(w, r, status, code, message)
	observability.LoggerFromContext(r.Context(), nil).Debug("request failed",
		zap.Int("status", status), zap.String("code", code), zap.Error(err))
}
