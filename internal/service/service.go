// Package service holds the weather cache manager: the read-through policy that decides,
// per location and data kind, whether to serve the stored value or refresh it upstream.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

var (
	// ErrUpstreamUnavailable is returned when a refresh failed and nothing is cached to fall back on.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRefreshFailed is returned by a forced Refresh that could not complete.
	ErrRefreshFailed = errors.New("refresh failed")

	ErrInvalidLocation = models.ErrInvalidLocation
	ErrUnknownKind     = models.ErrUnknownKind
)

const (
	triggerRead   = "read"
	triggerForced = "forced"
)

// Policy holds the per-kind freshness windows and the upstream time budget.
type Policy struct {
	Current         time.Duration
	Hourly          time.Duration
	Daily           time.Duration
	UpstreamTimeout time.Duration
}

// DefaultPolicy returns the standard windows: current 10m, hourly 60m, daily 6h.
func DefaultPolicy() Policy {
	return Policy{
		Current:         models.CurrentFreshness,
		Hourly:          models.HourlyFreshness,
		Daily:           models.DailyFreshness,
		UpstreamTimeout: 10 * time.Second,
	}
}

func (p Policy) window(kind models.Kind) time.Duration {
	switch kind {
	case models.KindHourly:
		return p.Hourly
	case models.KindDaily:
		return p.Daily
	default:
		return p.Current
	}
}

// Manager is the single owner of freshness decisions and upstream refreshes.
// At most one read-triggered refresh per (kind, location) is outstanding at a time.
type Manager struct {
	client  client.UpstreamClient
	store   store.Store
	policy  Policy
	logger  *zap.Logger
	now     func() time.Time
	flights *refreshGroup
}

// NewManager wires a manager over the given upstream client and backing store.
// Zero policy fields fall back to DefaultPolicy.
func NewManager(c client.UpstreamClient, s store.Store, policy Policy, logger *zap.Logger) *Manager {
	def := DefaultPolicy()
	if policy.Current <= 0 {
		policy.Current = def.Current
	}
	if policy.Hourly <= 0 {
		policy.Hourly = def.Hourly
	}
	if policy.Daily <= 0 {
		policy.Daily = def.Daily
	}
	if policy.UpstreamTimeout <= 0 {
		policy.UpstreamTimeout = def.UpstreamTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:  c,
		store:   s,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
		flights: newRefreshGroup(),
	}
}

// Policy returns the effective freshness policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Get returns the value for (loc, kind). A fresh stored value is returned without an
// upstream call. Otherwise one refresh runs for all concurrent callers; if it fails,
// a stored value is returned with Stale set, and with nothing stored the result is
// ErrUpstreamUnavailable. Store failures are returned as-is.
func (m *Manager) Get(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error) {
	if err := checkRequest(loc, kind); err != nil {
		return models.Snapshot{}, err
	}
	logger := observability.LoggerFromContext(ctx, m.logger).With(
		zap.String("location", loc.Key.String()), zap.String("kind", string(kind)))
	observability.RecordLocationQuery(loc.Key.String(), string(kind))

	cached, ok, err := m.read(ctx, loc.Key, kind)
	if err != nil {
		logger.Error("store read failed", zap.Error(err))
		return models.Snapshot{}, err
	}
	if ok && m.isFresh(cached) {
		observability.CacheLookupsTotal.WithLabelValues(string(kind), "hit").Inc()
		logger.Debug("cache hit", zap.Time("fetched_at", cached.FetchedAt))
		return cached, nil
	}
	if ok {
		observability.CacheLookupsTotal.WithLabelValues(string(kind), "stale").Inc()
	} else {
		observability.CacheLookupsTotal.WithLabelValues(string(kind), "miss").Inc()
	}
	logger.Debug("refreshing", zap.Bool("cached", ok))

	key := flightKey(triggerRead, kind, loc.Key)
	fresh, leader, err := m.flights.Do(ctx, key, func() (models.Snapshot, error) {
		return m.refreshIfStale(ctx, loc, kind)
	})
	if !leader && err == nil {
		observability.CoalescedWaitersTotal.WithLabelValues(string(kind)).Inc()
	}
	if err == nil {
		return fresh, nil
	}

	if errors.Is(err, store.ErrStoreUnavailable) {
		logger.Error("store write failed", zap.Error(err))
		return models.Snapshot{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return models.Snapshot{}, err
	}
	if !ok {
		logger.Warn("refresh failed with nothing cached",
			zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
		return models.Snapshot{}, fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnavailable, kind, loc.Key, err)
	}

	age := m.now().Sub(cached.FetchedAt)
	cached.Stale = true
	observability.StaleServedTotal.WithLabelValues(string(kind)).Inc()
	observability.StaleAgeSeconds.WithLabelValues(string(kind)).Observe(age.Seconds())
	logger.Info("serving stale value",
		zap.Duration("age", age), zap.String("category", string(client.CategorizeError(err))))
	return cached, nil
}

// GetCurrent is Get for KindCurrent. The bool reports whether the record is stale.
func (m *Manager) GetCurrent(ctx context.Context, loc models.Location) (models.CurrentWeather, bool, error) {
	snap, err := m.Get(ctx, loc, models.KindCurrent)
	if err != nil {
		return models.CurrentWeather{}, false, err
	}
	return *snap.Current, snap.Stale, nil
}

// GetHourly is Get for KindHourly. The bool reports whether the sequence is stale.
func (m *Manager) GetHourly(ctx context.Context, loc models.Location) ([]models.HourlyForecast, bool, error) {
	snap, err := m.Get(ctx, loc, models.KindHourly)
	if err != nil {
		return nil, false, err
	}
	return snap.Hourly, snap.Stale, nil
}

// GetDaily is Get for KindDaily. The bool reports whether the sequence is stale.
func (m *Manager) GetDaily(ctx context.Context, loc models.Location) ([]models.DailyForecast, bool, error) {
	snap, err := m.Get(ctx, loc, models.KindDaily)
	if err != nil {
		return nil, false, err
	}
	return snap.Daily, snap.Stale, nil
}

// Refresh fetches (loc, kind) upstream regardless of freshness and stores the result.
// It never joins a read-triggered refresh; when two complete, the later write wins.
// Nothing is written on failure.
func (m *Manager) Refresh(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error) {
	if err := checkRequest(loc, kind); err != nil {
		return models.Snapshot{}, err
	}
	key := flightKey(triggerForced, kind, loc.Key)
	snap, _, err := m.flights.Do(ctx, key, func() (models.Snapshot, error) {
		return m.fetchAndStore(ctx, loc, kind, triggerForced)
	})
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) || ctx.Err() != nil {
			return models.Snapshot{}, err
		}
		return models.Snapshot{}, fmt.Errorf("%w: %s %s: %v", ErrRefreshFailed, kind, loc.Key, err)
	}
	return snap, nil
}

// Clear removes the stored value for (key, kind). The next Get is a cold read.
func (m *Manager) Clear(ctx context.Context, key models.LocationKey, kind models.Kind) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidLocation)
	}
	start := time.Now()
	var err error
	switch kind {
	case models.KindCurrent:
		err = m.store.ClearCurrent(ctx, key)
	case models.KindHourly:
		err = m.store.ClearHourly(ctx, key)
	case models.KindDaily:
		err = m.store.ClearDaily(ctx, key)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	observability.ObserveStoreOp("clear_"+string(kind), start, err)
	if err != nil {
		return fmt.Errorf("clear %s %s: %w", kind, key, err)
	}
	observability.LoggerFromContext(ctx, m.logger).Info("cache cleared",
		zap.String("location", key.String()), zap.String("kind", string(kind)))
	return nil
}

// Ping reports backing store reachability.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) isFresh(s models.Snapshot) bool {
	return m.now().Sub(s.FetchedAt) < m.policy.window(s.Kind)
}

// refreshIfStale re-reads the store inside the flight so a caller arriving just after
// another flight completed reuses its write instead of calling upstream again.
func (m *Manager) refreshIfStale(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error) {
	if cached, ok, err := m.read(ctx, loc.Key, kind); err == nil && ok && m.isFresh(cached) {
		return cached, nil
	}
	return m.fetchAndStore(ctx, loc, kind, triggerRead)
}

// fetchAndStore calls upstream on a context detached from the caller's cancellation but
// bounded by the upstream timeout, validates the result and writes it as one replacement.
func (m *Manager) fetchAndStore(ctx context.Context, loc models.Location, kind models.Kind, trigger string) (models.Snapshot, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.policy.UpstreamTimeout)
	defer cancel()
	logger := observability.LoggerFromContext(ctx, m.logger)

	snap, err := m.fetch(fctx, loc, kind)
	if err != nil {
		observability.RefreshesTotal.WithLabelValues(string(kind), trigger, "failure").Inc()
		logger.Warn("refresh failed",
			zap.String("location", loc.Key.String()),
			zap.String("kind", string(kind)),
			zap.String("trigger", trigger),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return models.Snapshot{}, err
	}
	if err := m.write(fctx, loc.Key, snap); err != nil {
		observability.RefreshesTotal.WithLabelValues(string(kind), trigger, "failure").Inc()
		return models.Snapshot{}, err
	}
	observability.RefreshesTotal.WithLabelValues(string(kind), trigger, "success").Inc()
	logger.Debug("refreshed",
		zap.String("location", loc.Key.String()), zap.String("kind", string(kind)), zap.String("trigger", trigger))
	return snap, nil
}

// fetch calls upstream and stamps identity and fetch time. Sequences are validated before
// anything is written.
func (m *Manager) fetch(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error) {
	switch kind {
	case models.KindCurrent:
		rec, err := m.client.FetchCurrent(ctx, loc.Latitude, loc.Longitude)
		if err != nil {
			return models.Snapshot{}, err
		}
		now := m.now()
		rec.LocationKey = loc.Key
		if rec.DisplayName == "" {
			rec.DisplayName = loc.Name
		}
		rec.FetchedAt = now
		rec.Sanitize()
		return models.Snapshot{Kind: kind, Current: &rec, FetchedAt: now}, nil

	case models.KindHourly:
		seq, err := m.client.FetchHourly(ctx, loc.Latitude, loc.Longitude)
		if err != nil {
			return models.Snapshot{}, err
		}
		if err := models.ValidateHourly(seq); err != nil {
			return models.Snapshot{}, fmt.Errorf("%w: %v", client.ErrMalformedPayload, err)
		}
		now := m.now()
		for i := range seq {
			seq[i].LocationKey = loc.Key
			seq[i].FetchedAt = now
		}
		return models.Snapshot{Kind: kind, Hourly: seq, FetchedAt: now}, nil

	case models.KindDaily:
		seq, err := m.client.FetchDaily(ctx, loc.Latitude, loc.Longitude)
		if err != nil {
			return models.Snapshot{}, err
		}
		if err := models.ValidateDaily(seq); err != nil {
			return models.Snapshot{}, fmt.Errorf("%w: %v", client.ErrMalformedPayload, err)
		}
		now := m.now()
		for i := range seq {
			seq[i].LocationKey = loc.Key
			seq[i].FetchedAt = now
		}
		return models.Snapshot{Kind: kind, Daily: seq, FetchedAt: now}, nil
	}
	return models.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (m *Manager) write(ctx context.Context, key models.LocationKey, snap models.Snapshot) error {
	start := time.Now()
	var err error
	switch snap.Kind {
	case models.KindCurrent:
		err = m.store.WriteCurrent(ctx, *snap.Current)
	case models.KindHourly:
		err = m.store.ReplaceHourly(ctx, key, snap.Hourly)
	case models.KindDaily:
		err = m.store.ReplaceDaily(ctx, key, snap.Daily)
	}
	observability.ObserveStoreOp("write_"+string(snap.Kind), start, err)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", snap.Kind, key, err)
	}
	return nil
}

// read loads the stored value for (key, kind). An empty sequence reads as absent.
func (m *Manager) read(ctx context.Context, key models.LocationKey, kind models.Kind) (models.Snapshot, bool, error) {
	start := time.Now()
	snap := models.Snapshot{Kind: kind}
	var ok bool
	var err error
	switch kind {
	case models.KindCurrent:
		var rec models.CurrentWeather
		rec, ok, err = m.store.ReadCurrent(ctx, key)
		if ok {
			snap.Current = &rec
			snap.FetchedAt = rec.FetchedAt
		}
	case models.KindHourly:
		snap.Hourly, err = m.store.ReadHourly(ctx, key)
		if ok = len(snap.Hourly) > 0; ok {
			snap.FetchedAt = snap.Hourly[0].FetchedAt
		}
	case models.KindDaily:
		snap.Daily, err = m.store.ReadDaily(ctx, key)
		if ok = len(snap.Daily) > 0; ok {
			snap.FetchedAt = snap.Daily[0].FetchedAt
		}
	}
	observability.ObserveStoreOp("read_"+string(kind), start, err)
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("read %s %s: %w", kind, key, err)
	}
	return snap, ok, nil
}

func checkRequest(loc models.Location, kind models.Kind) error {
	if loc.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidLocation)
	}
	if _, err := models.ParseKind(string(kind)); err != nil {
		return err
	}
	return nil
}

func flightKey(trigger string, kind models.Kind, key models.LocationKey) string {
	return trigger + "|" + string(kind) + "|" + string(key)
}
