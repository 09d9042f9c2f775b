package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration
	AdminEnabled   bool // exposes DELETE /api/weather/{kind}
}

// NewRouter wires the handler's routes and middleware.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/weather").Subrouter()
	api.Use(RateLimitMiddleware(opts.Limiter))
	if opts.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	api.HandleFunc("", h.GetWeather(models.KindCurrent)).Methods(http.MethodGet)
	api.HandleFunc("/hourly", h.GetWeather(models.KindHourly)).Methods(http.MethodGet)
	api.HandleFunc("/daily", h.GetWeather(models.KindDaily)).Methods(http.MethodGet)
	api.HandleFunc("/{kind}/refresh", h.PostRefresh).Methods(http.MethodPost)
	if opts.AdminEnabled {
		api.HandleFunc("/{kind}", h.DeleteCache).Methods(http.MethodDelete)
	}
	return router
}
