package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

const (
	defaultInterval = 15 * time.Minute
	defaultRunLimit = 2 * time.Minute
)

// Scheduler periodically re-warms tracked locations. Runs never overlap.
type Scheduler struct {
	cron      *gocron.Scheduler
	warmer    *Warmer
	locations []models.Location
	interval  time.Duration
	runLimit  time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler that calls w.Warm for locations every interval.
// A non-positive interval falls back to 15 minutes.
func NewScheduler(w *Warmer, locations []models.Location, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runLimit := defaultRunLimit
	if interval < runLimit {
		runLimit = interval
	}
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		warmer:    w,
		locations: locations,
		interval:  interval,
		runLimit:  runLimit,
		logger:    logger,
	}
}

// Start schedules the refresh job and starts the scheduler. The first run happens one
// interval after Start; warm-up at startup is the caller's job.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.logger.Info("scheduled refresh disabled: no locations configured")
		return nil
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	s.mu.Unlock()

	_, err := s.cron.Every(s.interval).SingletonMode().WaitForSchedule().Do(func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.StartAsync()
	s.logger.Info("scheduled refresh started",
		zap.Duration("interval", s.interval), zap.Int("locations", len(s.locations)))
	return nil
}

// Stop cancels any running refresh and stops future runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.cron.Stop()
}

func (s *Scheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.runLimit)
	defer cancel()

	s.logger.Debug("scheduled refresh running")
	err := s.warmer.Warm(ctx, s.locations)
	switch {
	case err == nil:
		observability.ScheduledRefreshRunsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, context.Canceled) && parent.Err() != nil:
		observability.ScheduledRefreshRunsTotal.WithLabelValues("cancelled").Inc()
	default:
		observability.ScheduledRefreshRunsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("scheduled refresh failed", zap.Error(err))
	}
}
