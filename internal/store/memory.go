package store

import (
	"container/list"
	"context"
	"sync"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// MemoryStore keeps records in process memory. Each LocationKey has its own lock, so writes
// to one key never block reads of another. When maxLocations > 0 the least recently used
// key (all three kinds together) is evicted once the bound is exceeded.
type MemoryStore struct {
	mu           sync.Mutex // guards entries and lru
	entries      map[models.LocationKey]*memoryEntry
	lru          *list.List
	maxLocations int
	onEvict      func(models.LocationKey)
}

type memoryEntry struct {
	mu      sync.RWMutex
	key     models.LocationKey
	current *models.CurrentWeather
	hourly  []models.HourlyForecast
	daily   []models.DailyForecast
	element *list.Element
}

// NewMemoryStore creates an in-memory store. maxLocations <= 0 means unbounded.
func NewMemoryStore(maxLocations int) *MemoryStore {
	return &MemoryStore{
		entries:      make(map[models.LocationKey]*memoryEntry),
		lru:          list.New(),
		maxLocations: maxLocations,
	}
}

// OnEvict registers a callback invoked (outside any lock) for each evicted key.
func (s *MemoryStore) OnEvict(fn func(models.LocationKey)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// lookup returns the entry for key and marks it most recently used, or nil.
func (s *MemoryStore) lookup(key models.LocationKey) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.lru.MoveToFront(e.element)
	return e
}

// entry returns the entry for key, creating it (and evicting if over the bound) when absent.
func (s *MemoryStore) entry(key models.LocationKey) *memoryEntry {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.lru.MoveToFront(e.element)
		s.mu.Unlock()
		return e
	}
	e := &memoryEntry{key: key}
	e.element = s.lru.PushFront(e)
	s.entries[key] = e

	var evicted []models.LocationKey
	for s.maxLocations > 0 && s.lru.Len() > s.maxLocations {
		oldest := s.lru.Back()
		victim := oldest.Value.(*memoryEntry)
		s.lru.Remove(oldest)
		delete(s.entries, victim.key)
		evicted = append(evicted, victim.key)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, k := range evicted {
			onEvict(k)
		}
	}
	return e
}

// Len returns the number of locations currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ReadCurrent implements Store.ReadCurrent. A missing key is a miss, not an error.
func (s *MemoryStore) ReadCurrent(ctx context.Context, key models.LocationKey) (models.CurrentWeather, bool, error) {
	e := s.lookup(key)
	if e == nil {
		return models.CurrentWeather{}, false, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return models.CurrentWeather{}, false, nil
	}
	return *e.current, true, nil
}

// WriteCurrent implements Store.WriteCurrent, overwriting the record for rec.LocationKey.
func (s *MemoryStore) WriteCurrent(ctx context.Context, rec models.CurrentWeather) error {
	e := s.entry(rec.LocationKey)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = &rec
	return nil
}

// ClearCurrent implements Store.ClearCurrent.
func (s *MemoryStore) ClearCurrent(ctx context.Context, key models.LocationKey) error {
	if e := s.lookup(key); e != nil {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}
	return nil
}

// ReadHourly implements Store.ReadHourly. The returned slice is a copy.
func (s *MemoryStore) ReadHourly(ctx context.Context, key models.LocationKey) ([]models.HourlyForecast, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.HourlyForecast(nil), e.hourly...), nil
}

// ReplaceHourly implements Store.ReplaceHourly; readers see the old or the new sequence.
func (s *MemoryStore) ReplaceHourly(ctx context.Context, key models.LocationKey, seq []models.HourlyForecast) error {
	// Build the replacement before taking the lock; the swap itself is a single assignment.
	next := append([]models.HourlyForecast(nil), seq...)
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hourly = next
	return nil
}

// ClearHourly implements Store.ClearHourly.
func (s *MemoryStore) ClearHourly(ctx context.Context, key models.LocationKey) error {
	if e := s.lookup(key); e != nil {
		e.mu.Lock()
		e.hourly = nil
		e.mu.Unlock()
	}
	return nil
}

// ReadDaily implements Store.ReadDaily. The returned slice is a copy.
func (s *MemoryStore) ReadDaily(ctx context.Context, key models.LocationKey) ([]models.DailyForecast, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.DailyForecast(nil), e.daily...), nil
}

// ReplaceDaily implements Store.ReplaceDaily.
func (s *MemoryStore) ReplaceDaily(ctx context.Context, key models.LocationKey, seq []models.DailyForecast) error {
	next := append([]models.DailyForecast(nil), seq...)
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.daily = next
	return nil
}

// ClearDaily implements Store.ClearDaily.
func (s *MemoryStore) ClearDaily(ctx context.Context, key models.LocationKey) error {
	if e := s.lookup(key); e != nil {
		e.mu.Lock()
		e.daily = nil
		e.mu.Unlock()
	}
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
