// Package store holds the backing storage for cached weather records. A Store has no
// freshness policy of its own: it keeps one current record and two forecast sequences per
// LocationKey and hands them back as written.
package store

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// ErrStoreUnavailable wraps every genuine storage-layer failure. A missing key is never an error.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the contract every backing store implements. All methods are safe for concurrent use.
// Sequence reads return an empty slice when nothing is stored; Replace* swaps the whole
// sequence so readers see either the old or the new one.
type Store interface {
	ReadCurrent(ctx context.Context, key models.LocationKey) (models.CurrentWeather, bool, error)
	WriteCurrent(ctx context.Context, rec models.CurrentWeather) error
	ClearCurrent(ctx context.Context, key models.LocationKey) error

	ReadHourly(ctx context.Context, key models.LocationKey) ([]models.HourlyForecast, error)
	ReplaceHourly(ctx context.Context, key models.LocationKey, seq []models.HourlyForecast) error
	ClearHourly(ctx context.Context, key models.LocationKey) error

	ReadDaily(ctx context.Context, key models.LocationKey) ([]models.DailyForecast, error)
	ReplaceDaily(ctx context.Context, key models.LocationKey, seq []models.DailyForecast) error
	ClearDaily(ctx context.Context, key models.LocationKey) error

	// Ping reports whether the backend is reachable. Used by health checks.
	Ping(ctx context.Context) error
}
