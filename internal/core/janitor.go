package core

import (
	"context"
	"log/slog"
	"time"

	"mediaindex/internal/index"
	"mediaindex/internal/metrics"
)

const defaultSweepInterval = time.Hour

// Janitor removes records older than the retention window on a fixed
// interval. A zero retention disables it.
type Janitor struct {
	manager   *index.Manager
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewJanitor(manager *index.Manager, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		manager:   manager,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (j *Janitor) Run(ctx context.Context) {
	if j.retention <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)
	removed, err := j.manager.RemoveBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		metrics.RecordsReaped.Add(float64(removed))
		j.logger.Info("retention sweep",
			slog.Int("removed", removed),
			slog.Time("cutoff", cutoff),
		)
	}
}
