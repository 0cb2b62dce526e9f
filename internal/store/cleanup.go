package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/ecoscore/internal/jobs"
)

// DefaultPurgeRetention is how long soft-deleted products are kept before
// they and their scores are removed.
const DefaultPurgeRetention = 7 * 24 * time.Hour

// DefaultPurgeInterval is the default interval between purge runs.
const DefaultPurgeInterval = time.Hour

// Purger removes products soft-deleted before a cutoff.
type Purger interface {
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

// PurgeDeleted removes products soft-deleted longer than retention ago.
// Returns the number of products removed.
func PurgeDeleted(ctx context.Context, purger Purger, retention time.Duration, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deleted, err := purger.PurgeDeleted(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("failed to purge deleted products", "error", err)
		return 0, err
	}

	if deleted > 0 {
		logger.Info("purged deleted products", "deleted", deleted, "older_than", retention)
	}
	return deleted, nil
}

// PurgeJobConfig configures RunPeriodicPurge.
type PurgeJobConfig struct {
	Interval  time.Duration
	Retention time.Duration
	Logger    *slog.Logger
	// JobMetrics records each run as a product_purge job. Optional.
	JobMetrics jobs.Reporter
}

// RunPeriodicPurge purges once immediately and then every interval until
// ctx is done. It blocks and should typically be run in a goroutine.
func RunPeriodicPurge(ctx context.Context, purger Purger, cfg PurgeJobConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPurgeInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultPurgeRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		_, err := PurgeDeleted(ctx, purger, cfg.Retention, cfg.Logger)
		if cfg.JobMetrics != nil {
			status := jobs.StatusSuccess
			if err != nil {
				status = jobs.StatusFailure
				cfg.JobMetrics.IncJobErrors(jobs.JobTypeProductPurge, jobs.ErrorTypeDelete)
			}
			cfg.JobMetrics.IncJobsTotal(jobs.JobTypeProductPurge, status)
			cfg.JobMetrics.ObserveJobDuration(jobs.JobTypeProductPurge, time.Since(start).Seconds())
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			cfg.Logger.Info("stopping periodic purge")
			return
		}
	}
}
