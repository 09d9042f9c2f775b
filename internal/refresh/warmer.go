// Package refresh keeps tracked locations warm: a one-shot Warmer for startup and a
// Scheduler that re-runs it in the background.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// defaultParallelism caps concurrent upstream refreshes during a warm run.
const defaultParallelism = 4

// Refresher is implemented by the cache manager. Used by Warmer to avoid a dependency
// on the service package.
type Refresher interface {
	Refresh(ctx context.Context, loc models.Location, kind models.Kind) (models.Snapshot, error)
}

// Warmer forces a refresh of every kind for a set of locations.
type Warmer struct {
	refresher   Refresher
	logger      *zap.Logger
	parallelism int
}

// NewWarmer creates a Warmer that refreshes through r.
func NewWarmer(r Refresher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{refresher: r, logger: logger, parallelism: defaultParallelism}
}

// Warm refreshes current, hourly and daily data for each location concurrently.
// One failure does not stop the others; all failures are returned joined.
func (w *Warmer) Warm(ctx context.Context, locations []models.Location) error {
	if len(locations) == 0 {
		return nil
	}
	start := time.Now()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(w.parallelism)
	for _, loc := range locations {
		for _, kind := range models.Kinds {
			loc, kind := loc, kind
			g.Go(func() error {
				if _, err := w.refresher.Refresh(ctx, loc, kind); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("warm %s %s: %w", loc.Key, kind, err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)))
	return errors.Join(errs...)
}
