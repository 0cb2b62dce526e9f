// Package aggregation runs the batch scoring pipeline of a vertical: score
// producers record raw values per product, then the batch is backfilled,
// relativized against its own statistics, composed and ranked.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/stats"
	"github.com/onnwee/ecoscore/internal/tracing"
)

// ScoreProducer computes scores for a vertical.
//
// OnProduct runs during the per-item pass and may run concurrently for
// different products on forked runs; it records raw values with
// run.Record. Finish runs once after the batch has been backfilled and
// relativized. A returned error aborts the run; per-item problems are
// recorded in run.Diagnostics instead.
type ScoreProducer interface {
	Name() string
	OnProduct(ctx context.Context, run *BatchRunContext, p *product.Product) error
	Finish(ctx context.Context, run *BatchRunContext, products []*product.Product) error
}

// Config configures an Engine.
type Config struct {
	// Logger for run diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics records run metrics. Optional.
	Metrics *Metrics
	// Workers is the number of goroutines of the per-item pass in Run.
	// Values below 2 run it sequentially.
	Workers int
}

// Engine orchestrates an ordered list of producers over a batch.
// An Engine holds no batch state and can serve concurrent runs.
type Engine struct {
	producers []ScoreProducer
	logger    *slog.Logger
	metrics   *Metrics
	workers   int
}

// NewEngine creates an engine running producers in the given order.
func NewEngine(cfg Config, producers ...ScoreProducer) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		producers: producers,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		workers:   cfg.Workers,
	}
}

// Result summarizes a finished run. The products passed to Done carry the
// computed scores.
type Result struct {
	RunID       string
	Vertical    string
	Products    int
	ScoreNames  []string
	Ranked      map[string]int
	Virtual     int
	Statistics  map[string]stats.Cardinality
	Diagnostics *Diagnostics
	Duration    time.Duration
}

// Init starts a run for vertical.
func (e *Engine) Init(vertical *policy.Vertical) *BatchRunContext {
	return newRun(vertical, e.logger, e.metrics)
}

// OnProduct runs every producer's per-item hook for p.
func (e *Engine) OnProduct(ctx context.Context, run *BatchRunContext, p *product.Product) error {
	if run.finished {
		return ErrRunFinished
	}
	// Virtual scores of an earlier run are recomputed by this one.
	p.DropVirtual()
	for _, producer := range e.producers {
		if err := producer.OnProduct(ctx, run, p); err != nil {
			return fmt.Errorf("%s: product %s: %w", producer.Name(), p.ID, err)
		}
	}
	return nil
}

// Done completes the run: virtual backfill, relativization, producer
// Finish hooks, then ranking of every score. It must be called once, after
// every product went through OnProduct.
func (e *Engine) Done(ctx context.Context, run *BatchRunContext, products []*product.Product) (result *Result, err error) {
	if run.finished {
		return nil, ErrRunFinished
	}
	run.finished = true

	defer func() {
		status := StatusSuccess
		if err != nil {
			status = StatusFailure
		}
		e.metrics.observeRun(run.Vertical.ID, status, time.Since(run.StartedAt).Seconds())
	}()

	ctx, endSpan := tracing.StartSpan(ctx, "ecoscore.done",
		attribute.String("ecoscore.run_id", run.ID),
		attribute.String("ecoscore.vertical", run.Vertical.ID),
		attribute.Int("ecoscore.products", len(products)))
	defer func() { endSpan(err) }()

	names := run.Relative.Names()

	_, endBackfill := tracing.StartSpan(ctx, "ecoscore.backfill")
	virtual := Backfill(run, products, names)
	endBackfill(nil)

	rctx, endRelativize := tracing.StartSpan(ctx, "ecoscore.relativize")
	err = Relativize(rctx, run, products, names)
	endRelativize(err)
	if err != nil {
		return nil, fmt.Errorf("relativize: %w", err)
	}

	for _, producer := range e.producers {
		pctx, endFinish := tracing.StartSpan(ctx, "ecoscore.finish."+producer.Name())
		err := producer.Finish(pctx, run, products)
		endFinish(err)
		if err != nil {
			run.logger.Error("batch run aborted", "producer", producer.Name(), "error", err)
			return nil, fmt.Errorf("%s: %w", producer.Name(), err)
		}
	}

	_, endRank := tracing.StartSpan(ctx, "ecoscore.rank")
	ranked := rankAll(run, products)
	endRank(nil)

	result = &Result{
		RunID:       run.ID,
		Vertical:    run.Vertical.ID,
		Products:    len(products),
		ScoreNames:  sortedKeys(ranked),
		Ranked:      ranked,
		Virtual:     virtual,
		Statistics:  run.Absolute.Snapshot(),
		Diagnostics: run.Diagnostics,
		Duration:    time.Since(run.StartedAt),
	}

	run.logger.Info("batch run completed",
		"products", result.Products,
		"scores", len(result.ScoreNames),
		"virtual_scores", virtual,
		"warnings", len(run.Diagnostics.Warnings()),
		"failures", len(run.Diagnostics.Failures()),
		"unknown_brands", run.Diagnostics.UnknownBrands(),
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// Run scores products in one call: Init, the per-item pass (parallel when
// Workers > 1) and Done.
func (e *Engine) Run(ctx context.Context, vertical *policy.Vertical, products []*product.Product) (*Result, error) {
	run := e.Init(vertical)
	if err := e.accumulate(ctx, run, products); err != nil {
		run.finished = true
		e.metrics.observeRun(vertical.ID, StatusFailure, time.Since(run.StartedAt).Seconds())
		return nil, err
	}
	return e.Done(ctx, run, products)
}

// accumulate runs the per-item pass. With several workers each one fills a
// forked run; the forks are merged before returning, which is the barrier
// the relativization pass depends on.
func (e *Engine) accumulate(ctx context.Context, run *BatchRunContext, products []*product.Product) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ecoscore.accumulate",
		attribute.Int("ecoscore.workers", e.workers))
	defer func() { endSpan(err) }()

	workers := e.workers
	if workers > len(products) {
		workers = len(products)
	}
	if workers < 2 {
		for _, p := range products {
			if err := e.OnProduct(ctx, run, p); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := (len(products) + workers - 1) / workers
	shards := make([]*BatchRunContext, 0, workers)
	g, gctx := errgroup.WithContext(ctx)

	for lo := 0; lo < len(products); lo += chunk {
		hi := min(lo+chunk, len(products))
		shard := run.fork()
		shards = append(shards, shard)
		batch := products[lo:hi]

		g.Go(func() error {
			for _, p := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.OnProduct(gctx, shard, p); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, shard := range shards {
		run.merge(shard)
	}
	return nil
}

// rankAll ranks every score name present on the products. The composite
// only ranks real composite scores.
func rankAll(run *BatchRunContext, products []*product.Product) map[string]int {
	seen := make(map[string]struct{})
	for _, p := range products {
		for name := range p.Scores {
			seen[name] = struct{}{}
		}
	}

	composite := run.Vertical.CompositeName()
	ranked := make(map[string]int, len(seen))
	for name := range seen {
		var include func(*product.Score) bool
		if name == composite {
			include = realScore
		}
		ranked[name] = Rank(products, name, include)
	}
	return ranked
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
