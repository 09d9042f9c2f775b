package traffic

import (
	"sync"
	"time"
)

// Outcome classifies one served request or refresh for health accounting.
type Outcome int

const (
	// OutcomeSuccess is a request answered with fresh data.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is a request that failed outright.
	OutcomeFailure
	// OutcomeStale is a request answered with stale data after a failed refresh.
	OutcomeStale
	// OutcomeDenied is a rate-limit rejection (429).
	OutcomeDenied
	numOutcomes
)

// maxAge bounds how long timestamps are retained regardless of the query window.
const maxAge = 15 * time.Minute

var defaultTracker = NewTracker()

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Count returns the number of o outcomes within the window on the process-wide tracker.
func Count(o Outcome, window time.Duration) int {
	return defaultTracker.Count(o, window)
}

// FailureRate returns (unhealthy, total) within the window on the process-wide tracker.
func FailureRate(window time.Duration) (unhealthy, total int) {
	return defaultTracker.FailureRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times [numOutcomes][]time.Time
}

// NewTracker returns an empty tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record appends the current time to o's window and prunes expired entries.
func (t *Tracker) Record(o Outcome) {
	if o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes not older than window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// FailureRate returns (unhealthy, total) within the window. unhealthy counts failures and
// stale serves; total adds successes. Denials are excluded.
func (t *Tracker) FailureRate(window time.Duration) (unhealthy, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	unhealthy = countSince(t.times[OutcomeFailure], cutoff) + countSince(t.times[OutcomeStale], cutoff)
	total = unhealthy + countSince(t.times[OutcomeSuccess], cutoff)
	return unhealthy, total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
