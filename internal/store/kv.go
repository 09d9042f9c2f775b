package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

const keyPrefix = "weather:"

// itemExpiry is a safety expiry for networked backends. Freshness is decided by the
// manager from FetchedAt; this only stops abandoned locations from living forever.
const itemExpiry = 7 * 24 * time.Hour

// kvBackend is the byte-level surface shared by the networked stores.
// get returns (nil, false, nil) on a miss.
type kvBackend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
	ping(ctx context.Context) error
}

// kvStore implements Store over a kvBackend. Each (kind, LocationKey) is one JSON item,
// so a sequence replace is a single SET and readers never observe a partial sequence.
type kvStore struct {
	backend kvBackend
}

// maxItemKeyLen is memcached's key length limit.
const maxItemKeyLen = 250

// itemKey escapes the location so keys never contain spaces or control characters.
// Escaping can triple non-ASCII names; keys past maxItemKeyLen use a sha256 digest of
// the LocationKey instead.
func itemKey(kind models.Kind, key models.LocationKey) string {
	k := keyPrefix + string(kind) + ":" + url.QueryEscape(string(key))
	if len(k) <= maxItemKeyLen {
		return k
	}
	sum := sha256.Sum256([]byte(key))
	return keyPrefix + string(kind) + ":sha256:" + hex.EncodeToString(sum[:])
}

func readJSON[T any](ctx context.Context, b kvBackend, key string) (T, bool, error) {
	var out T
	raw, ok, err := b.get(ctx, key)
	if err != nil {
		return out, false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, key, err)
	}
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, key, err)
	}
	return out, true, nil
}

func writeJSON(ctx context.Context, b kvBackend, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStoreUnavailable, key, err)
	}
	if err := b.set(ctx, key, raw, itemExpiry); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *kvStore) clear(ctx context.Context, key string) error {
	if err := s.backend.del(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *kvStore) ReadCurrent(ctx context.Context, key models.LocationKey) (models.CurrentWeather, bool, error) {
	return readJSON[models.CurrentWeather](ctx, s.backend, itemKey(models.KindCurrent, key))
}

func (s *kvStore) WriteCurrent(ctx context.Context, rec models.CurrentWeather) error {
	return writeJSON(ctx, s.backend, itemKey(models.KindCurrent, rec.LocationKey), rec)
}

func (s *kvStore) ClearCurrent(ctx context.Context, key models.LocationKey) error {
	return s.clear(ctx, itemKey(models.KindCurrent, key))
}

func (s *kvStore) ReadHourly(ctx context.Context, key models.LocationKey) ([]models.HourlyForecast, error) {
	seq, _, err := readJSON[[]models.HourlyForecast](ctx, s.backend, itemKey(models.KindHourly, key))
	return seq, err
}

func (s *kvStore) ReplaceHourly(ctx context.Context, key models.LocationKey, seq []models.HourlyForecast) error {
	if len(seq) == 0 {
		return s.ClearHourly(ctx, key)
	}
	return writeJSON(ctx, s.backend, itemKey(models.KindHourly, key), seq)
}

func (s *kvStore) ClearHourly(ctx context.Context, key models.LocationKey) error {
	return s.clear(ctx, itemKey(models.KindHourly, key))
}

func (s *kvStore) ReadDaily(ctx context.Context, key models.LocationKey) ([]models.DailyForecast, error) {
	seq, _, err := readJSON[[]models.DailyForecast](ctx, s.backend, itemKey(models.KindDaily, key))
	return seq, err
}

func (s *kvStore) ReplaceDaily(ctx context.Context, key models.LocationKey, seq []models.DailyForecast) error {
	if len(seq) == 0 {
		return s.ClearDaily(ctx, key)
	}
	return writeJSON(ctx, s.backend, itemKey(models.KindDaily, key), seq)
}

func (s *kvStore) ClearDaily(ctx context.Context, key models.LocationKey) error {
	return s.clear(ctx, itemKey(models.KindDaily, key))
}

func (s *kvStore) Ping(ctx context.Context) error {
	if err := s.backend.ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}
