package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

func hourlySeq(key models.LocationKey, n int, temp float64) []models.HourlyForecast {
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	seq := make([]models.HourlyForecast, n)
	for i := range seq {
		seq[i] = models.HourlyForecast{LocationKey: key, Timestamp: base.Add(time.Duration(i) * time.Hour), Temperature: temp}
	}
	return seq
}

func TestMemoryStore_CurrentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, ok, err := s.ReadCurrent(ctx, "paris")
	require.NoError(t, err)
	assert.False(t, ok, "cold store should report absent")

	rec := models.CurrentWeather{LocationKey: "paris", DisplayName: "Paris", Temperature: 12.5}
	require.NoError(t, s.WriteCurrent(ctx, rec))

	got, ok, err := s.ReadCurrent(ctx, "paris")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	rec.Temperature = 14
	require.NoError(t, s.WriteCurrent(ctx, rec))
	got, _, _ = s.ReadCurrent(ctx, "paris")
	assert.Equal(t, 14.0, got.Temperature, "write should upsert in place")

	require.NoError(t, s.ClearCurrent(ctx, "paris"))
	_, ok, _ = s.ReadCurrent(ctx, "paris")
	assert.False(t, ok)
}

func TestMemoryStore_ReplaceAndClearHourly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	seq, err := s.ReadHourly(ctx, "oslo")
	require.NoError(t, err)
	assert.Empty(t, seq)

	require.NoError(t, s.ReplaceHourly(ctx, "oslo", hourlySeq("oslo", 24, 5)))
	require.NoError(t, s.ReplaceHourly(ctx, "oslo", hourlySeq("oslo", 3, 7)))

	seq, err = s.ReadHourly(ctx, "oslo")
	require.NoError(t, err)
	require.Len(t, seq, 3, "shorter replacement must not leave old tail entries")
	for _, h := range seq {
		assert.Equal(t, 7.0, h.Temperature)
	}

	require.NoError(t, s.ClearHourly(ctx, "oslo"))
	seq, _ = s.ReadHourly(ctx, "oslo")
	assert.Empty(t, seq)
}

func TestMemoryStore_DailyIndependentOfHourly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceHourly(ctx, "rome", hourlySeq("rome", 2, 20)))
	require.NoError(t, s.ReplaceDaily(ctx, "rome", []models.DailyForecast{{LocationKey: "rome", Date: day}}))
	require.NoError(t, s.ClearDaily(ctx, "rome"))

	daily, _ := s.ReadDaily(ctx, "rome")
	hourly, _ := s.ReadHourly(ctx, "rome")
	assert.Empty(t, daily)
	assert.Len(t, hourly, 2)
}

func TestMemoryStore_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	in := hourlySeq("lima", 2, 18)
	require.NoError(t, s.ReplaceHourly(ctx, "lima", in))

	in[0].Temperature = -50
	out, _ := s.ReadHourly(ctx, "lima")
	out[1].Temperature = -50

	again, _ := s.ReadHourly(ctx, "lima")
	assert.Equal(t, 18.0, again[0].Temperature)
	assert.Equal(t, 18.0, again[1].Temperature)
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	var evicted []models.LocationKey
	s.OnEvict(func(k models.LocationKey) { evicted = append(evicted, k) })

	require.NoError(t, s.WriteCurrent(ctx, models.CurrentWeather{LocationKey: "a"}))
	require.NoError(t, s.WriteCurrent(ctx, models.CurrentWeather{LocationKey: "b"}))
	_, _, _ = s.ReadCurrent(ctx, "a") // a becomes most recently used
	require.NoError(t, s.WriteCurrent(ctx, models.CurrentWeather{LocationKey: "c"}))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []models.LocationKey{"b"}, evicted)
	_, ok, _ := s.ReadCurrent(ctx, "b")
	assert.False(t, ok, "evicted key reads as absent")
	_, ok, _ = s.ReadCurrent(ctx, "a")
	assert.True(t, ok)
}

// TestMemoryStore_ConcurrentReplace verifies readers only ever observe a complete sequence
// while writers swap between two distinct sequences.
func TestMemoryStore_ConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	oldSeq := hourlySeq("kyiv", 24, 1)
	newSeq := hourlySeq("kyiv", 12, 2)
	require.NoError(t, s.ReplaceHourly(ctx, "kyiv", oldSeq))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if (i+w)%2 == 0 {
					_ = s.ReplaceHourly(ctx, "kyiv", newSeq)
				} else {
					_ = s.ReplaceHourly(ctx, "kyiv", oldSeq)
				}
			}
		}(w)
	}

	for i := 0; i < 2000; i++ {
		seq, err := s.ReadHourly(ctx, "kyiv")
		require.NoError(t, err)
		require.True(t, len(seq) == 24 || len(seq) == 12, "partial sequence of length %d", len(seq))
		want := seq[0].Temperature
		for _, h := range seq {
			require.Equal(t, want, h.Temperature, "mixed sequence observed")
		}
	}
	close(stop)
	wg.Wait()
}

func TestMemoryStore_DifferentKeysParallel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.LocationKey(fmt.Sprintf("city-%d", i))
			_ = s.WriteCurrent(ctx, models.CurrentWeather{LocationKey: key, Temperature: float64(i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
