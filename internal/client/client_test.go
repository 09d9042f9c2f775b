package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

const currentBody = `{
	"latitude": 48.86, "longitude": 2.35, "utc_offset_seconds": 7200,
	"current": {
		"time": "2026-10-18T14:15", "temperature_2m": 17.4, "relative_humidity_2m": 63,
		"apparent_temperature": 16.1, "is_day": 1, "weather_code": 3, "cloud_cover": 88,
		"surface_pressure": 1012.6, "wind_speed_10m": 14.2, "wind_direction_10m": 225,
		"visibility": 24140
	},
	"daily": {"time": ["2026-10-18"], "sunrise": ["2026-10-18T08:12"], "sunset": ["2026-10-18T18:55"]}
}`

const hourlyBody = `{
	"utc_offset_seconds": 0,
	"hourly": {
		"time": ["2026-10-18T00:00", "2026-10-18T01:00", "2026-10-18T02:00"],
		"temperature_2m": [9.1, 8.7, 8.2],
		"relative_humidity_2m": [81, 84, 86],
		"weather_code": [0, 61, 95],
		"is_day": [0, 0, 0],
		"wind_speed_10m": [5.0, 6.5, 7.2]
	}
}`

const dailyBody = `{
	"utc_offset_seconds": 0,
	"daily": {
		"time": ["2026-10-18", "2026-10-19"],
		"temperature_2m_max": [18.0, 16.5],
		"temperature_2m_min": [9.0, 8.1],
		"weather_code": [2, 63],
		"wind_speed_10m_max": [20.1, 25.4],
		"relative_humidity_2m_mean": [72, null]
	}
}`

func newTestClient(t *testing.T, url string, attempts int) *OpenMeteoClient {
	t.Helper()
	c, err := NewOpenMeteoClient(Options{
		BaseURL:        url,
		Timeout:        time.Second,
		RetryAttempts:  attempts,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return c
}

func serveBody(t *testing.T, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewOpenMeteoClient_InvalidURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"default URL", "", false},
		{"explicit URL", "http://localhost:8080/v1/forecast", false},
		{"missing scheme", "api.open-meteo.com/v1/forecast", true},
		{"garbage", "://", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenMeteoClient(Options{BaseURL: tt.url})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewOpenMeteoClient(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if !tt.wantErr && c.hourlyHours != DefaultHourlyHours {
				t.Errorf("hourlyHours = %d, want %d", c.hourlyHours, DefaultHourlyHours)
			}
		})
	}
}

func TestOpenMeteoClient_FetchCurrent_Success(t *testing.T) {
	server := serveBody(t, currentBody, func(r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "48.8566" || q.Get("longitude") != "2.3522" {
			t.Errorf("coordinates = %s,%s", q.Get("latitude"), q.Get("longitude"))
		}
		if q.Get("timezone") != "auto" {
			t.Errorf("timezone = %q, want auto", q.Get("timezone"))
		}
		if q.Get("current") == "" || q.Get("daily") != "sunrise,sunset" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
	})
	c := newTestClient(t, server.URL, 1)

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	got, err := c.FetchCurrent(ctx, 48.8566, 2.3522)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}

	if got.Temperature != 17.4 || got.FeelsLike != 16.1 {
		t.Errorf("temperature = %v/%v, want 17.4/16.1", got.Temperature, got.FeelsLike)
	}
	if got.Humidity != 63 || got.Cloudiness != 88 {
		t.Errorf("humidity/cloudiness = %d/%d, want 63/88", got.Humidity, got.Cloudiness)
	}
	if got.PressureHPa != 1013 {
		t.Errorf("PressureHPa = %d, want 1013 (rounded)", got.PressureHPa)
	}
	if got.VisibilityKm != 24.14 {
		t.Errorf("VisibilityKm = %v, want 24.14", got.VisibilityKm)
	}
	if got.WindDirectionDeg != 225 {
		t.Errorf("WindDirectionDeg = %d, want 225", got.WindDirectionDeg)
	}
	if got.Main != "Clouds" || got.Description != "overcast" || got.IconID != "03d" {
		t.Errorf("condition = %+v, want Clouds/overcast/03d", got.Condition)
	}
	if got.UTCOffsetSeconds != 7200 {
		t.Errorf("UTCOffsetSeconds = %d, want 7200", got.UTCOffsetSeconds)
	}
	wantSunrise := time.Date(2026, 10, 18, 6, 12, 0, 0, time.UTC)
	if !got.Sunrise.Equal(wantSunrise) {
		t.Errorf("Sunrise = %v, want %v", got.Sunrise, wantSunrise)
	}
	if got.Latitude != 48.8566 || got.Longitude != 2.3522 {
		t.Errorf("coordinates = %v,%v", got.Latitude, got.Longitude)
	}
	if got.LocationKey != "" || !got.FetchedAt.IsZero() {
		t.Error("client must leave LocationKey and FetchedAt for the caller")
	}
}

func TestOpenMeteoClient_FetchCurrent_Defaults(t *testing.T) {
	body := `{"utc_offset_seconds": 0, "current": {"time": "2026-10-18T23:00", "is_day": 0, "weather_code": 0}}`
	server := serveBody(t, body, nil)
	c := newTestClient(t, server.URL, 1)

	got, err := c.FetchCurrent(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got.VisibilityKm != defaultVisibilityKm {
		t.Errorf("VisibilityKm = %v, want default %v", got.VisibilityKm, defaultVisibilityKm)
	}
	if got.Sunrise.Hour() != 6 || got.Sunset.Hour() != 18 {
		t.Errorf("sunrise/sunset = %v/%v, want 06:00/18:00 fallback", got.Sunrise, got.Sunset)
	}
	if got.IconID != "01n" {
		t.Errorf("IconID = %q, want night icon 01n", got.IconID)
	}
}

func TestOpenMeteoClient_FetchHourly_Success(t *testing.T) {
	server := serveBody(t, hourlyBody, func(r *http.Request) {
		if r.URL.Query().Get("forecast_days") != "2" {
			t.Errorf("forecast_days = %q, want 2", r.URL.Query().Get("forecast_days"))
		}
	})
	c := newTestClient(t, server.URL, 1)

	seq, err := c.FetchHourly(context.Background(), 51.5, -0.12)
	if err != nil {
		t.Fatalf("FetchHourly() error = %v", err)
	}
	if len(seq) != 3 {
		t.Fatalf("len = %d, want 3", len(seq))
	}
	if seq[1].Main != "Rain" || seq[2].Main != "Thunderstorm" {
		t.Errorf("conditions = %q, %q", seq[1].Main, seq[2].Main)
	}
	if !seq[0].Timestamp.Before(seq[1].Timestamp) {
		t.Error("hourly sequence not chronological")
	}
	if seq[2].Humidity != 86 || seq[2].WindSpeedKph != 7.2 {
		t.Errorf("entry 2 = %+v", seq[2])
	}
}

func TestOpenMeteoClient_FetchHourly_TruncatesToLimit(t *testing.T) {
	server := serveBody(t, hourlyBody, nil)
	c, err := NewOpenMeteoClient(Options{BaseURL: server.URL, HourlyHours: 2, RetryAttempts: 1})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	seq, err := c.FetchHourly(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchHourly() error = %v", err)
	}
	if len(seq) != 2 {
		t.Errorf("len = %d, want 2", len(seq))
	}
}

func TestOpenMeteoClient_FetchDaily_Success(t *testing.T) {
	server := serveBody(t, dailyBody, func(r *http.Request) {
		if r.URL.Query().Get("forecast_days") != "7" {
			t.Errorf("forecast_days = %q, want 7", r.URL.Query().Get("forecast_days"))
		}
	})
	c := newTestClient(t, server.URL, 1)

	seq, err := c.FetchDaily(context.Background(), 35.68, 139.69)
	if err != nil {
		t.Fatalf("FetchDaily() error = %v", err)
	}
	if len(seq) != 2 {
		t.Fatalf("len = %d, want 2", len(seq))
	}
	if seq[0].Humidity != 72 {
		t.Errorf("day 0 humidity = %d, want 72", seq[0].Humidity)
	}
	if seq[1].Humidity != defaultDailyHumidity {
		t.Errorf("day 1 humidity = %d, want default %d", seq[1].Humidity, defaultDailyHumidity)
	}
	if seq[1].IconID != "10d" {
		t.Errorf("daily IconID = %q, want day variant 10d", seq[1].IconID)
	}
	if seq[0].TempMin != 9.0 || seq[0].TempMax != 18.0 {
		t.Errorf("day 0 temps = %v..%v", seq[0].TempMin, seq[0].TempMax)
	}
}

func TestOpenMeteoClient_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		fetch func(c *OpenMeteoClient) error
	}{
		{"not json", `<html>oops</html>`, func(c *OpenMeteoClient) error {
			_, err := c.FetchCurrent(context.Background(), 0, 0)
			return err
		}},
		{"missing current", `{"utc_offset_seconds": 0}`, func(c *OpenMeteoClient) error {
			_, err := c.FetchCurrent(context.Background(), 0, 0)
			return err
		}},
		{"bad current time", `{"current": {"time": "yesterday"}}`, func(c *OpenMeteoClient) error {
			_, err := c.FetchCurrent(context.Background(), 0, 0)
			return err
		}},
		{"unequal hourly arrays", `{"hourly": {"time": ["2026-10-18T00:00"], "temperature_2m": [], "relative_humidity_2m": [1], "weather_code": [1], "is_day": [1], "wind_speed_10m": [1]}}`, func(c *OpenMeteoClient) error {
			_, err := c.FetchHourly(context.Background(), 0, 0)
			return err
		}},
		{"empty hourly", `{"hourly": {"time": []}}`, func(c *OpenMeteoClient) error {
			_, err := c.FetchHourly(context.Background(), 0, 0)
			return err
		}},
		{"bad daily date", `{"daily": {"time": ["18/10/2026"], "temperature_2m_max": [1], "temperature_2m_min": [1], "weather_code": [1], "wind_speed_10m_max": [1]}}`, func(c *OpenMeteoClient) error {
			_, err := c.FetchDaily(context.Background(), 0, 0)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := serveBody(t, tt.body, nil)
			c := newTestClient(t, server.URL, 3)
			err := tt.fetch(c)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestOpenMeteoClient_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantCalls int32
	}{
		{"bad request not retried", http.StatusBadRequest, ErrUpstreamHTTP, 1},
		{"server error retried", http.StatusInternalServerError, ErrUpstreamHTTP, 3},
		{"rate limited retried", http.StatusTooManyRequests, ErrRateLimited, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, 3)
			_, err := c.FetchHourly(context.Background(), 0, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestOpenMeteoClient_RetryThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(dailyBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	seq, err := c.FetchDaily(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchDaily() error = %v", err)
	}
	if len(seq) != 2 {
		t.Errorf("len = %d, want 2", len(seq))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestOpenMeteoClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewOpenMeteoClient(Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond, RetryAttempts: 1})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	start := time.Now()
	_, err = c.FetchCurrent(context.Background(), 0, 0)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Errorf("error = %v, want ErrUpstreamTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("FetchCurrent() took %v, want bounded by timeout", elapsed)
	}
}

func TestOpenMeteoClient_CancelledContextStopsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, _ := NewOpenMeteoClient(Options{BaseURL: server.URL, RetryAttempts: 5, RetryBaseDelay: time.Second, RetryMaxDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.FetchHourly(ctx, 0, 0)
	if err == nil {
		t.Fatal("FetchHourly() error = nil, want failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (backoff interrupted by context)", got)
	}
}

func TestOpenMeteoClient_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour, Component: "upstream"}))

	for i := 0; i < 2; i++ {
		if _, err := c.FetchCurrent(context.Background(), 0, 0); !errors.Is(err, ErrUpstreamHTTP) {
			t.Fatalf("call %d error = %v, want ErrUpstreamHTTP", i, err)
		}
	}
	_, err := c.FetchCurrent(context.Background(), 0, 0)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2 (open circuit short-circuits)", got)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 204: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 301: "error"}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestCalculateBackoff_Bounded(t *testing.T) {
	c := &OpenMeteoClient{retryBaseDelay: 100 * time.Millisecond, retryMaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt <= 6; attempt++ {
		d := c.calculateBackoff(attempt)
		if d < 100*time.Millisecond || d > 330*time.Millisecond {
			t.Errorf("calculateBackoff(%d) = %v, out of [100ms, 330ms]", attempt, d)
		}
	}
}

func TestDaysCovering(t *testing.T) {
	tests := map[int]int{1: 2, 24: 2, 25: 2, 48: 2, 49: 3, 500: 16}
	for hours, want := range tests {
		if got := daysCovering(hours); got != want {
			t.Errorf("daysCovering(%d) = %d, want %d", hours, got, want)
		}
	}
}
