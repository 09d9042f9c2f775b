package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  map[models.Kind]int
	failOn models.LocationKey
	active int32
	peak   int32
	delay  time.Duration
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{calls: make(map[models.Kind]int)}
}

func (f *fakeRefresher) Refresh(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[kind]++
	f.mu.Unlock()
	if loc.Key == f.failOn {
		return models.Snapshot{}, errors.New("upstream down")
	}
	return models.Snapshot{Kind: kind}, nil
}

func (f *fakeRefresher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func locations(t *testing.T, names ...string) []models.Location {
	t.Helper()
	out := make([]models.Location, 0, len(names))
	for _, name := range names {
		loc, err := models.NewLocation(name, 47.6, -122.3)
		require.NoError(t, err)
		out = append(out, loc)
	}
	return out
}

func TestWarmer_Warm_RefreshesEveryKind(t *testing.T) {
	r := newFakeRefresher()
	w := NewWarmer(r, nil)

	err := w.Warm(context.Background(), locations(t, "Seattle", "Boston"))
	require.NoError(t, err)

	assert.Equal(t, 2, r.calls[models.KindCurrent])
	assert.Equal(t, 2, r.calls[models.KindHourly])
	assert.Equal(t, 2, r.calls[models.KindDaily])
}

func TestWarmer_Warm_EmptyLocations(t *testing.T) {
	r := newFakeRefresher()
	w := NewWarmer(r, nil)

	assert.NoError(t, w.Warm(context.Background(), nil))
	assert.NoError(t, w.Warm(context.Background(), []models.Location{}))
	assert.Zero(t, r.total())
}

func TestWarmer_Warm_AggregatesFailures(t *testing.T) {
	r := newFakeRefresher()
	r.failOn = "seattle"
	w := NewWarmer(r, nil)

	err := w.Warm(context.Background(), locations(t, "Seattle", "Boston"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm seattle current")
	assert.Contains(t, err.Error(), "warm seattle daily")
	assert.NotContains(t, err.Error(), "boston")
	assert.Equal(t, 6, r.total(), "a failing location must not stop the others")
}

func TestWarmer_Warm_BoundedParallelism(t *testing.T) {
	r := newFakeRefresher()
	r.delay = 5 * time.Millisecond
	w := NewWarmer(r, nil)

	require.NoError(t, w.Warm(context.Background(), locations(t, "a", "b", "c", "d", "e")))
	assert.Equal(t, 15, r.total())
	assert.LessOrEqual(t, int(atomic.LoadInt32(&r.peak)), defaultParallelism)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(NewWarmer(newFakeRefresher(), nil), nil, 0, nil)
	assert.Equal(t, defaultInterval, s.interval)
	assert.Equal(t, defaultRunLimit, s.runLimit)

	s = NewScheduler(NewWarmer(newFakeRefresher(), nil), nil, 30*time.Second, nil)
	assert.Equal(t, 30*time.Second, s.runLimit, "run limit is capped at the interval")
}

func TestScheduler_Start_NoLocations(t *testing.T) {
	r := newFakeRefresher()
	s := NewScheduler(NewWarmer(r, nil), nil, time.Minute, nil)
	require.NoError(t, s.Start())
	s.Stop()
	assert.Zero(t, r.total())
}

func TestScheduler_RunOnce(t *testing.T) {
	r := newFakeRefresher()
	s := NewScheduler(NewWarmer(r, nil), locations(t, "Oslo"), time.Minute, nil)

	s.runOnce(context.Background())
	assert.Equal(t, 3, r.total())
}

func TestScheduler_RunsPeriodically(t *testing.T) {
	r := newFakeRefresher()
	s := NewScheduler(NewWarmer(r, nil), locations(t, "Oslo"), 20*time.Millisecond, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.total() >= 6 }, 2*time.Second, 5*time.Millisecond,
		"expected at least two scheduled runs")
}
