//go:build integration
// +build integration

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	testhelpers "github.com/kjstillabower/weather-cache-service/internal/testhelpers"
)

// setupIntegrationRouter wires the full stack over the live forecast API.
// Returns the router and the store backing the manager.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) (*mux.Router, store.Store) {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	manager, s := testhelpers.SetupIntegrationManager(t, cfg)
	logger := zaptest.NewLogger(t)
	h := NewHandler(manager, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 90}, logger)
	return NewRouter(h, logger, RouterOptions{Limiter: limiter, RequestTimeout: 15 * time.Second, AdminEnabled: true}), s
}

func makeIntegrationRequest(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestIntegration_GetWeather_EveryKind(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)

	for _, path := range []string{"/api/weather", "/api/weather/hourly", "/api/weather/daily"} {
		w := makeIntegrationRequest(t, router, http.MethodGet, path+"?city=Seattle&lat=47.61&lon=-122.33")
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d, body %s", path, w.Code, w.Body.String())
		}
		var body struct {
			Data      json.RawMessage `json:"data"`
			Stale     bool            `json:"stale"`
			FetchedAt time.Time       `json:"fetchedAt"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if body.Stale || body.FetchedAt.IsZero() || len(body.Data) == 0 {
			t.Errorf("%s body = stale %v fetchedAt %v data %s", path, body.Stale, body.FetchedAt, body.Data)
		}
	}
}

func TestIntegration_GetWeather_SecondReadServedFromStore(t *testing.T) {
	router, s := setupIntegrationRouter(t, nil)
	path := "/api/weather?city=London&lat=51.51&lon=-0.13"

	first := makeIntegrationRequest(t, router, http.MethodGet, path)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	rec, ok, err := s.ReadCurrent(context.Background(), models.LocationKey("london"))
	if err != nil || !ok {
		t.Fatalf("ReadCurrent ok=%v err=%v, want stored record", ok, err)
	}

	second := makeIntegrationRequest(t, router, http.MethodGet, path)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), rec.FetchedAt.Format("2006-01-02T15:04:05")) {
		t.Errorf("second read should reuse the stored fetch time %v", rec.FetchedAt)
	}
}

func TestIntegration_RefreshAndClear(t *testing.T) {
	router, s := setupIntegrationRouter(t, nil)

	w := makeIntegrationRequest(t, router, http.MethodPost, "/api/weather/daily/refresh?city=Tokyo&lat=35.68&lon=139.69")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", w.Code, w.Body.String())
	}
	seq, err := s.ReadDaily(context.Background(), "tokyo")
	if err != nil || len(seq) == 0 {
		t.Fatalf("ReadDaily len=%d err=%v", len(seq), err)
	}

	w = makeIntegrationRequest(t, router, http.MethodDelete, "/api/weather/daily?city=Tokyo")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	seq, err = s.ReadDaily(context.Background(), "tokyo")
	if err != nil || len(seq) != 0 {
		t.Errorf("after clear len=%d err=%v, want empty", len(seq), err)
	}
}

func TestIntegration_GetHealth_FullStack(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)

	w := makeIntegrationRequest(t, router, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestIntegration_GetMetrics_Format(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)
	makeIntegrationRequest(t, router, http.MethodGet, "/api/weather?lat=40.71&lon=-74.01")

	w := makeIntegrationRequest(t, router, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	for _, name := range []string{"httpRequestsTotal", "upstreamCallsTotal", "cacheLookupsTotal"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestIntegration_RateLimiting_Concurrent(t *testing.T) {
	router, _ := setupIntegrationRouter(t, rate.NewLimiter(rate.Limit(1), 3))

	var mu sync.Mutex
	counts := map[int]int{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := makeIntegrationRequest(t, router, http.MethodGet, "/api/weather?city=Oslo&lat=59.91&lon=10.75")
			mu.Lock()
			counts[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts[http.StatusTooManyRequests] < 7 {
		t.Errorf("status counts = %v, want at least 7 rate limited", counts)
	}
}
