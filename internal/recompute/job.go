// Package recompute keeps the stored scores and published rankings of every
// vertical current: verticals with product changes are marked dirty and a
// periodic job reruns their batch.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/ecoscore/internal/aggregation"
	"github.com/onnwee/ecoscore/internal/jobs"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/ranking"
	"github.com/onnwee/ecoscore/internal/tracing"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// DefaultRecomputeInterval is the default interval between recompute cycles.
const DefaultRecomputeInterval = 15 * time.Minute

// DefaultRecomputeTimeout is the default timeout for a single recompute cycle.
const DefaultRecomputeTimeout = 5 * time.Minute

// RecomputeJobConfig configures the recompute job.
type RecomputeJobConfig struct {
	// Interval is the duration between recompute cycles.
	Interval time.Duration
	// Timeout bounds one cycle over every dirty vertical.
	Timeout time.Duration
	// Parallelism is the number of verticals recomputed concurrently.
	// Defaults to 1.
	Parallelism int
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for per-vertical recompute tracking. Optional.
	Metrics *Metrics
	// JobMetrics for the shared background job metrics. Optional.
	JobMetrics jobs.Reporter
}

// RecomputeJob periodically reruns the batch of dirty verticals: load the
// catalog, run the engine, save the scores, publish the rankings.
type RecomputeJob struct {
	config    RecomputeJobConfig
	registry  *policy.Registry
	engine    *aggregation.Engine
	dirty     *DirtyTracker
	source    ProductSource
	store     ScoreStore
	publisher RankingPublisher

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastPolled time.Time
}

// NewRecomputeJob creates a recompute job. store and publisher may be nil.
func NewRecomputeJob(
	config RecomputeJobConfig,
	registry *policy.Registry,
	engine *aggregation.Engine,
	dirty *DirtyTracker,
	source ProductSource,
	store ScoreStore,
	publisher RankingPublisher,
) *RecomputeJob {
	if config.Interval == 0 {
		config.Interval = DefaultRecomputeInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRecomputeTimeout
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &RecomputeJob{
		config:     config,
		registry:   registry,
		engine:     engine,
		dirty:      dirty,
		source:     source,
		store:      store,
		publisher:  publisher,
		lastPolled: time.Now(),
	}
}

// Start begins the periodic recompute job. It returns immediately; the job
// runs in a background goroutine until Stop or ctx cancellation.
func (j *RecomputeJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for the current cycle to finish.
func (j *RecomputeJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RecomputeJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *RecomputeJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("recompute job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			j.pollChanges(ctx)
			j.RecomputeNow(ctx)
		}
	}
}

// pollChanges marks the verticals reported by a ChangeFeed source dirty.
func (j *RecomputeJob) pollChanges(ctx context.Context) {
	feed, ok := j.source.(ChangeFeed)
	if !ok {
		return
	}
	polledAt := time.Now()
	changed, err := feed.ChangedVerticals(ctx, j.lastPolled)
	if err != nil {
		j.config.Logger.Warn("failed to poll product changes", "error", err)
		return
	}
	j.lastPolled = polledAt
	for _, id := range changed {
		if _, err := j.registry.Get(id); err != nil {
			j.config.Logger.Debug("ignoring change of unconfigured vertical", "vertical", id)
			continue
		}
		j.dirty.MarkDirty(id)
	}
}

// Summary reports one recompute cycle.
type Summary struct {
	Recomputed []string
	Failed     map[string]error
	Duration   time.Duration
}

// RecomputeNow recomputes every dirty vertical without waiting for the
// ticker. Failed verticals stay dirty and are retried on the next cycle.
func (j *RecomputeJob) RecomputeNow(parentCtx context.Context) Summary {
	dirty := j.dirty.DirtyVerticals()
	j.config.Metrics.setDirty(len(dirty))
	summary := Summary{Failed: make(map[string]error)}
	if len(dirty) == 0 {
		return summary
	}

	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	j.config.Logger.Info("recomputing dirty verticals", "dirty_count", len(dirty))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(j.config.Parallelism)
	for _, id := range dirty {
		g.Go(func() error {
			startedAt := time.Now()
			_, err := j.Recompute(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed[id] = err
				return nil
			}
			j.dirty.ClearDirtyBefore(id, startedAt)
			summary.Recomputed = append(summary.Recomputed, id)
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(startTime)
	status := jobs.StatusSuccess
	if len(summary.Failed) > 0 {
		status = jobs.StatusFailure
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeScoreRecompute, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeScoreRecompute, summary.Duration.Seconds())
	}
	j.config.Metrics.setDirty(j.dirty.DirtyCount())

	j.config.Logger.Info("recompute completed",
		"duration_ms", summary.Duration.Milliseconds(),
		"verticals_recomputed", len(summary.Recomputed),
		"verticals_failed", len(summary.Failed))

	return summary
}

// Recompute reruns the batch of one vertical and persists its outcome.
func (j *RecomputeJob) Recompute(ctx context.Context, verticalID string) (result *aggregation.Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ecoscore.recompute",
		attribute.String("ecoscore.vertical", verticalID))
	defer func() { endSpan(err) }()

	startTime := time.Now()
	logger := j.config.Logger.With("vertical", verticalID)

	result, errorType, err := j.recompute(ctx, verticalID)
	seconds := time.Since(startTime).Seconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = jobs.ErrorTypeTimeout
		}
		logger.Error("vertical recompute failed", "error_type", errorType, "error", err)
		j.config.Metrics.observeFailure(verticalID, errorType, seconds)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(jobs.JobTypeScoreRecompute, errorType)
		}
		return nil, err
	}

	j.config.Metrics.observeSuccess(verticalID, seconds, result.Products, float64(time.Now().Unix()))
	logger.Info("vertical recomputed",
		"run_id", result.RunID,
		"products", result.Products,
		"scores", len(result.ScoreNames),
		"warnings", len(result.Diagnostics.Warnings()),
		"duration_ms", int64(seconds*1000))
	return result, nil
}

func (j *RecomputeJob) recompute(ctx context.Context, verticalID string) (*aggregation.Result, string, error) {
	vertical, err := j.registry.Get(verticalID)
	if err != nil {
		return nil, jobs.ErrorTypeLoad, err
	}

	products, err := j.source.LoadProducts(ctx, verticalID)
	if err != nil {
		return nil, jobs.ErrorTypeLoad, fmt.Errorf("load products: %w", err)
	}

	result, err := j.engine.Run(ctx, vertical, products)
	if err != nil {
		return nil, jobs.ErrorTypeScore, fmt.Errorf("score batch: %w", err)
	}

	if j.store != nil {
		start := time.Now()
		err := j.store.SaveScores(ctx, verticalID, result.RunID, products)
		j.observeStage(jobs.JobTypeScorePersist, start, err)
		if err != nil {
			return nil, jobs.ErrorTypeSave, fmt.Errorf("save scores: %w", err)
		}
	}

	if j.publisher != nil {
		start := time.Now()
		err := j.publish(ctx, result, products)
		j.observeStage(jobs.JobTypeRankingPublish, start, err)
		if err != nil {
			return nil, jobs.ErrorTypePublish, fmt.Errorf("publish rankings: %w", err)
		}
	}
	return result, "", nil
}

// observeStage records one persistence stage of a recompute as a job.
func (j *RecomputeJob) observeStage(jobType string, start time.Time, err error) {
	if j.config.JobMetrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
	}
	j.config.JobMetrics.IncJobsTotal(jobType, status)
	j.config.JobMetrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}

func (j *RecomputeJob) publish(ctx context.Context, result *aggregation.Result, products []*product.Product) error {
	at := time.Now()
	published := 0
	for _, score := range result.ScoreNames {
		if result.Ranked[score] == 0 {
			continue
		}
		snap := ranking.Build(result.Vertical, score, result.RunID, products, at)
		if err := j.publisher.Publish(ctx, snap); err != nil {
			return fmt.Errorf("%s: %w", score, err)
		}
		published++
	}
	j.config.Metrics.incPublished(result.Vertical, published)
	return nil
}
