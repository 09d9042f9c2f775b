package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestMetrics_Usable verifies that all metrics accept the label dimensions used by
// the client, http, service, store and refresh packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/weather", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/weather").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("hourly", "success").Inc()
	UpstreamDuration.WithLabelValues("hourly", "success").Observe(0.2)
	UpstreamRetriesTotal.WithLabelValues("daily").Inc()
	UpstreamErrorsTotal.WithLabelValues("timeout").Inc()
	CacheLookupsTotal.WithLabelValues("current", "hit").Inc()
	RefreshesTotal.WithLabelValues("current", "read", "failure").Inc()
	CoalescedWaitersTotal.WithLabelValues("hourly").Inc()
	StaleServedTotal.WithLabelValues("current").Inc()
	StaleAgeSeconds.WithLabelValues("current").Observe(1200)
	CircuitBreakerState.WithLabelValues("upstream").Set(1)
	ScheduledRefreshRunsTotal.WithLabelValues("success").Inc()
	RateLimitDeniedTotal.Inc()
}

// TestRecordLocationQuery_TrackedAndOther verifies allow-listed locations keep their
// label and everything else collapses into "other".
func TestRecordLocationQuery_TrackedAndOther(t *testing.T) {
	SetTrackedLocations([]string{"Seattle", "portland"})
	defer SetTrackedLocations(nil)

	beforeTracked := counterValue(t, LocationQueriesTotal.WithLabelValues("seattle", "current"))
	beforeOther := counterValue(t, LocationQueriesTotal.WithLabelValues("other", "current"))

	RecordLocationQuery(" SEATTLE ", "current")
	RecordLocationQuery("unknown-city", "current")

	if got := counterValue(t, LocationQueriesTotal.WithLabelValues("seattle", "current")); got != beforeTracked+1 {
		t.Errorf("seattle count = %v, want %v", got, beforeTracked+1)
	}
	if got := counterValue(t, LocationQueriesTotal.WithLabelValues("other", "current")); got != beforeOther+1 {
		t.Errorf("other count = %v, want %v", got, beforeOther+1)
	}
}

// TestObserveStoreOp_CountsErrors verifies store failures increment the error counter.
func TestObserveStoreOp_CountsErrors(t *testing.T) {
	before := counterValue(t, StoreErrorsTotal.WithLabelValues("read_hourly"))
	ObserveStoreOp("read_hourly", time.Now(), nil)
	ObserveStoreOp("read_hourly", time.Now(), errors.New("down"))
	if got := counterValue(t, StoreErrorsTotal.WithLabelValues("read_hourly")); got != before+1 {
		t.Errorf("storeErrorsTotal = %v, want %v", got, before+1)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// the text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RegisterHealthGauges(time.Minute)
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "requestFailuresInWindow", "rateLimitRejectsInWindow"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
