package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/store"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

// Sweeper deletes metrics older than the retention period.
type Sweeper struct {
	store         *store.Store
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	retentionDays int
	interval      time.Duration
	now           func() time.Time
}

func NewSweeper(st *store.Store, retentionDays int, interval time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:         st,
		metrics:       metrics,
		logger:        logger,
		retentionDays: retentionDays,
		interval:      interval,
		now:           time.Now,
	}
}

// Cleanup deletes every metric, in any project, whose timestamp is strictly
// before now minus days. It returns the number of rows removed.
func (s *Sweeper) Cleanup(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, apperr.Validation("retention days must be at least 1")
	}
	threshold := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	n, err := s.store.DeleteMetricsBefore(ctx, threshold)
	if err != nil {
		return 0, apperr.Internal("Internal server error", err)
	}
	s.metrics.Deleted(n)
	return n, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.Cleanup(ctx, s.retentionDays)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("metric retention sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("metric retention sweep", "deleted", n, "retention_days", s.retentionDays)
	}
}
