package tracking

import (
	"context"
	"time"

	"conveyor/internal/constants"
	"conveyor/internal/logger"
	"conveyor/pkg/metrics"
)

// Reaper periodically fails tracking records stuck in a non-terminal
// status. A record goes stale when its worker died mid-flight or a retry
// envelope was lost, leaving nothing that would ever finish it.
type Reaper struct {
	store       Store
	interval    time.Duration
	staleCutoff time.Duration
	logger      logger.Logger
}

func NewReaper(store Store, interval, staleCutoff time.Duration, log logger.Logger) *Reaper {
	if interval <= 0 {
		interval = constants.DefaultReaperInterval
	}
	if staleCutoff <= 0 {
		staleCutoff = constants.DefaultStaleCutoff
	}
	return &Reaper{
		store:       store,
		interval:    interval,
		staleCutoff: staleCutoff,
		logger:      log,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infow("Reaper started",
		"interval", r.interval,
		"stale_cutoff", r.staleCutoff,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Errorw("Reaper sweep failed",
					"error", err,
				)
			}
		}
	}
}

// RunOnce performs a single sweep and returns the number of records failed.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.staleCutoff)

	swept, err := r.store.FailStale(ctx, cutoff, constants.ReaperTimeoutMessage)
	if err != nil {
		return 0, err
	}

	if swept > 0 {
		metrics.AddReaperSwept(float64(swept))
		r.logger.Warnw("Swept stale tracking records",
			"swept", swept,
			"cutoff", cutoff,
		)
	}

	return swept, nil
}
