package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// UpstreamClient fetches weather for a coordinate pair, already normalized into the
// record model. LocationKey, DisplayName and FetchedAt are left for the caller to stamp.
type UpstreamClient interface {
	FetchCurrent(ctx context.Context, lat, lon float64) (models.CurrentWeather, error)
	FetchHourly(ctx context.Context, lat, lon float64) ([]models.HourlyForecast, error)
	FetchDaily(ctx context.Context, lat, lon float64) ([]models.DailyForecast, error)
}

var (
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrUpstreamNetwork  = errors.New("upstream network error")
	ErrUpstreamHTTP     = errors.New("upstream HTTP error")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedPayload = errors.New("malformed upstream payload")
	ErrCircuitOpen      = circuitbreaker.ErrOpen
)

// StatusError is a non-2xx upstream response. It matches ErrUpstreamHTTP, and
// ErrRateLimited for 429.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream HTTP %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUpstreamHTTP:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultHourlyHours = 24
	DefaultDailyDays   = 7

	maxBodyBytes         = 4 << 20
	localLayout          = "2006-01-02T15:04"
	dateLayout           = "2006-01-02"
	defaultVisibilityKm  = 10.0
	defaultDailyHumidity = 50
)

// Options configures an OpenMeteoClient. Zero values take package defaults.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HourlyHours    int
	DailyDays      int
}

// OpenMeteoClient is the Open-Meteo forecast API implementation of UpstreamClient.
type OpenMeteoClient struct {
	baseURL        *url.URL
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	hourlyHours    int
	dailyDays      int
	breaker        *circuitbreaker.CircuitBreaker
}

func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultForecastURL
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid forecast URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.HourlyHours <= 0 {
		opts.HourlyHours = DefaultHourlyHours
	}
	if opts.DailyDays <= 0 {
		opts.DailyDays = DefaultDailyDays
	}

	return &OpenMeteoClient{
		baseURL:        base,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		hourlyHours:    opts.HourlyHours,
		dailyDays:      opts.DailyDays,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every upstream attempt through cb. Nil disables it.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type forecastResponse struct {
	UTCOffsetSeconds int           `json:"utc_offset_seconds"`
	Current          *currentBlock `json:"current"`
	Hourly           *hourlyBlock  `json:"hourly"`
	Daily            *dailyBlock   `json:"daily"`
}

type currentBlock struct {
	Time                string   `json:"time"`
	Temperature         float64  `json:"temperature_2m"`
	Humidity            float64  `json:"relative_humidity_2m"`
	ApparentTemperature float64  `json:"apparent_temperature"`
	IsDay               int      `json:"is_day"`
	WeatherCode         int      `json:"weather_code"`
	CloudCover          float64  `json:"cloud_cover"`
	SurfacePressure     float64  `json:"surface_pressure"`
	WindSpeed           float64  `json:"wind_speed_10m"`
	WindDirection       float64  `json:"wind_direction_10m"`
	Visibility          *float64 `json:"visibility"`
}

type hourlyBlock struct {
	Time        []string  `json:"time"`
	Temperature []float64 `json:"temperature_2m"`
	Humidity    []float64 `json:"relative_humidity_2m"`
	WeatherCode []int     `json:"weather_code"`
	IsDay       []int     `json:"is_day"`
	WindSpeed   []float64 `json:"wind_speed_10m"`
}

type dailyBlock struct {
	Time         []string   `json:"time"`
	TempMax      []float64  `json:"temperature_2m_max"`
	TempMin      []float64  `json:"temperature_2m_min"`
	WeatherCode  []int      `json:"weather_code"`
	WindSpeedMax []float64  `json:"wind_speed_10m_max"`
	HumidityMean []*float64 `json:"relative_humidity_2m_mean"`
	Sunrise      []string   `json:"sunrise"`
	Sunset       []string   `json:"sunset"`
}

func (c *OpenMeteoClient) FetchCurrent(ctx context.Context, lat, lon float64) (models.CurrentWeather, error) {
	params := coordParams(lat, lon)
	params.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,is_day,weather_code,cloud_cover,surface_pressure,wind_speed_10m,wind_direction_10m,visibility")
	params.Set("daily", "sunrise,sunset")
	params.Set("forecast_days", "1")

	var resp forecastResponse
	if err := c.fetch(ctx, models.KindCurrent, params, &resp); err != nil {
		return models.CurrentWeather{}, err
	}
	rec, err := mapCurrent(resp, lat, lon)
	if err != nil {
		return models.CurrentWeather{}, c.fail(err)
	}
	return rec, nil
}

func (c *OpenMeteoClient) FetchHourly(ctx context.Context, lat, lon float64) ([]models.HourlyForecast, error) {
	params := coordParams(lat, lon)
	params.Set("hourly", "temperature_2m,relative_humidity_2m,weather_code,is_day,wind_speed_10m")
	params.Set("forecast_days", strconv.Itoa(daysCovering(c.hourlyHours)))

	var resp forecastResponse
	if err := c.fetch(ctx, models.KindHourly, params, &resp); err != nil {
		return nil, err
	}
	seq, err := mapHourly(resp, c.hourlyHours)
	if err != nil {
		return nil, c.fail(err)
	}
	return seq, nil
}

func (c *OpenMeteoClient) FetchDaily(ctx context.Context, lat, lon float64) ([]models.DailyForecast, error) {
	params := coordParams(lat, lon)
	params.Set("daily", "temperature_2m_max,temperature_2m_min,weather_code,wind_speed_10m_max,relative_humidity_2m_mean")
	params.Set("forecast_days", strconv.Itoa(c.dailyDays))

	var resp forecastResponse
	if err := c.fetch(ctx, models.KindDaily, params, &resp); err != nil {
		return nil, err
	}
	seq, err := mapDaily(resp, c.dailyDays)
	if err != nil {
		return nil, c.fail(err)
	}
	return seq, nil
}

// fetch performs the request with retries and decodes the JSON body into out.
func (c *OpenMeteoClient) fetch(ctx context.Context, kind models.Kind, params url.Values, out *forecastResponse) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(string(kind)).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return c.fail(fmt.Errorf("%w: %v", ErrUpstreamTimeout, ctx.Err()))
			case <-time.After(delay):
			}
		}

		err := c.attempt(ctx, kind, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !c.isRetryable(err) || ctx.Err() != nil {
			return c.fail(err)
		}
	}

	return c.fail(fmt.Errorf("exhausted retries: %w", lastErr))
}

func (c *OpenMeteoClient) fail(err error) error {
	observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

func (c *OpenMeteoClient) attempt(ctx context.Context, kind models.Kind, params url.Values, out *forecastResponse) error {
	if c.breaker == nil {
		return c.callAPI(ctx, kind, params, out)
	}
	return c.breaker.Call(ctx, func() error {
		return c.callAPI(ctx, kind, params, out)
	})
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, kind models.Kind, params url.Values, out *forecastResponse) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, params)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(string(kind), "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(string(kind), "error").Inc()
		observability.UpstreamDuration.WithLabelValues(string(kind), "error").Observe(time.Since(start).Seconds())
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(string(kind), status).Inc()
	observability.UpstreamDuration.WithLabelValues(string(kind), status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransportError(err)
	}
	*out = forecastResponse{}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrMalformedPayload, err)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamNetwork, err)
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamNetwork) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 500
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	u := *c.baseURL
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return &StatusError{StatusCode: resp.StatusCode}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("timezone", "auto")
	return params
}

// daysCovering returns the forecast_days needed for hours entries starting at local midnight.
func daysCovering(hours int) int {
	days := (hours + 23) / 24
	if days < 2 {
		days = 2
	}
	if days > 16 {
		days = 16
	}
	return days
}
