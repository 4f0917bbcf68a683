// Package retention removes decided consent requests once they age out.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ehrconsent/internal/platform/metrics"
)

const sweepTimeout = time.Minute

// Purger deletes decided requests older than a cutoff and reports how many.
type Purger interface {
	PurgeDecidedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs Purger on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	purger    Purger
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Sweeper)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New schedules a sweep keeping retention worth of decided requests.
// schedule accepts standard five-field cron specs and descriptors such as
// "@daily" or "@every 1h".
func New(purger Purger, retention time.Duration, schedule string, opts ...Option) (*Sweeper, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	s := &Sweeper{
		purger:    purger,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep purges once and returns the number of requests removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.purger.PurgeDecidedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.AddPurged(n)
	return n, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
		return
	}
	s.logger.InfoContext(ctx, "retention sweep finished", "purged", n, "retention", s.retention.String())
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop prevents further sweeps and waits for a running one, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
