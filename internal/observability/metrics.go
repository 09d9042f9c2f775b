package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-cache-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream forecast API calls by data kind and status. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per attempt. Watch for: p95 > 2s (provider degradation), p99 near the timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the upstream. High retries = unstable provider.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Upstream failures by stable category (client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Cache lookups by kind and result (hit, miss, stale). Hit rate = hit/(hit+miss+stale).
	CacheLookupsTotal *prometheus.CounterVec

	// Refreshes by kind, trigger (read, forced) and outcome (success, failure).
	RefreshesTotal *prometheus.CounterVec

	// Callers that joined an outstanding refresh instead of calling upstream.
	CoalescedWaitersTotal *prometheus.CounterVec

	// Stale values served after a failed refresh. Watch for: sustained growth = provider outage.
	StaleServedTotal *prometheus.CounterVec

	// Age of stale values at the moment they were served.
	StaleAgeSeconds *prometheus.HistogramVec

	// Backing store latency by operation.
	StoreOperationDuration *prometheus.HistogramVec

	// Backing store failures by operation. Any non-zero rate is an incident.
	StoreErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Scheduled background refresh runs by outcome.
	ScheduledRefreshRunsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Per-location query count (allow-list; others go to "other").
	LocationQueriesTotal *prometheus.CounterVec

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	healthGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of forecast API calls",
		},
		[]string{"kind", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Forecast API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"kind", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for forecast API calls",
		},
		[]string{"kind"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Forecast API failures by category",
		},
		[]string{"category"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Cache lookups by data kind and result (hit, miss, stale)",
		},
		[]string{"kind", "result"},
	)
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshesTotal",
			Help: "Upstream refreshes by data kind, trigger and outcome",
		},
		[]string{"kind", "trigger", "outcome"},
	)
	CoalescedWaitersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescedWaitersTotal",
			Help: "Callers that shared an outstanding refresh instead of calling upstream",
		},
		[]string{"kind"},
	)
	StaleServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleServedTotal",
			Help: "Stale cached values served after a failed refresh",
		},
		[]string{"kind"},
	)
	StaleAgeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staleAgeSeconds",
			Help:    "Age of stale values when served",
			Buckets: []float64{600, 1800, 3600, 6 * 3600, 12 * 3600, 24 * 3600, 72 * 3600},
		},
		[]string{"kind"},
	)
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Backing store latency in seconds by operation",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"op"},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "Backing store failures by operation",
		},
		[]string{"op"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	ScheduledRefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduledRefreshRunsTotal",
			Help: "Scheduled background refresh runs by outcome",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	LocationQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationQueriesTotal",
			Help: "Weather queries by location and kind (allow-list; others use location=other)",
		},
		[]string{"location", "kind"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CacheLookupsTotal, RefreshesTotal, CoalescedWaitersTotal,
		StaleServedTotal, StaleAgeSeconds,
		StoreOperationDuration, StoreErrorsTotal,
		CircuitBreakerState, ScheduledRefreshRunsTotal,
		RateLimitDeniedTotal, LocationQueriesTotal,
	)
}

// RegisterHealthGauges registers failure and denial gauges over the health window.
// Call from main after config load with cfg.DegradedWindow.
func RegisterHealthGauges(window time.Duration) {
	healthGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "requestFailuresInWindow",
					Help: "Requests that failed outright in the health window",
				},
				func() float64 { return float64(traffic.Count(traffic.OutcomeFailure, window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the health window",
				},
				func() float64 { return float64(traffic.Count(traffic.OutcomeDenied, window)) },
			),
		)
	})
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordLocationQuery records a lookup of kind for the given location key.
func RecordLocationQuery(location, kind string) {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if !ok {
		loc = "other"
	}
	LocationQueriesTotal.WithLabelValues(loc, kind).Inc()
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ObserveStoreOp records latency and, when err is non-nil, a failure for a store operation.
func ObserveStoreOp(op string, start time.Time, err error) {
	StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
