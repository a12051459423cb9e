package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
)

// scanInterval is how often the registry and retention sweeps run.
const scanInterval = 2 * time.Minute

// LogTrimmer drops application log entries beyond the bounded history.
type LogTrimmer interface {
	Trim(ctx context.Context) error
}

// Reaper runs the primary's periodic hygiene: instances that stopped
// heartbeating go inactive, old probe outcomes age out, the application
// log stays bounded.
type Reaper struct {
	instances repository.InstanceRepository
	outcomes  repository.OutcomeRepository
	logs      LogTrimmer
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reaper. outcomes and logs may be nil to skip their sweeps.
func New(instances repository.InstanceRepository, outcomes repository.OutcomeRepository, logs LogTrimmer, retention time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		instances: instances,
		outcomes:  outcomes,
		logs:      logs,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every scanInterval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass of all hygiene tasks. Each task's failure is
// logged and does not block the others.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()

	stale, err := r.instances.MarkStale(ctx, now.Add(-domain.StaleHeartbeatAfter))
	if err != nil {
		r.logger.Error("mark stale instances", slog.Any("error", err))
	} else if stale > 0 {
		r.logger.Info("marked stale instances inactive", slog.Int64("count", stale))
	}

	if r.outcomes != nil && r.retention > 0 {
		deleted, err := r.outcomes.DeleteOlderThan(ctx, now.Add(-r.retention))
		if err != nil {
			r.logger.Error("prune outcome log", slog.Any("error", err))
		} else if deleted > 0 {
			r.logger.Info("pruned old outcomes", slog.Int64("count", deleted))
		}
	}

	if r.logs != nil {
		if err := r.logs.Trim(ctx); err != nil {
			r.logger.Error("trim application log", slog.Any("error", err))
		}
	}
}
