package aggregation

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/ecoscore/internal/normalize"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/stats"
)

// BatchRunContext is the state of one batch run. It is created by
// Engine.Init, owned by that run alone and discarded after Done, so
// independent verticals can be scored concurrently.
//
// Absolute holds the informational statistics of raw values, Relative the
// statistics the run normalizes against. Both only see real scores; virtual
// backfills never feed them.
type BatchRunContext struct {
	ID          string
	Vertical    *policy.Vertical
	StartedAt   time.Time
	Absolute    *stats.Accumulator
	Relative    *stats.Accumulator
	Diagnostics *Diagnostics

	logger   *slog.Logger
	metrics  *Metrics
	finished bool

	// Per score name: the resolved policy, and the normalization context
	// once the statistics of that name stopped changing.
	resolved map[string]resolution
	contexts map[string]normalize.Context
}

type resolution struct {
	policy policy.Resolved
	err    error
}

func newRun(vertical *policy.Vertical, logger *slog.Logger, metrics *Metrics) *BatchRunContext {
	id := uuid.New().String()
	logger = logger.With("run_id", id, "vertical", vertical.ID)
	return &BatchRunContext{
		ID:          id,
		Vertical:    vertical,
		StartedAt:   time.Now(),
		Absolute:    stats.NewAccumulator(),
		Relative:    stats.NewAccumulator(),
		Diagnostics: newDiagnostics(vertical.ID, logger, metrics),
		logger:      logger,
		metrics:     metrics,
		resolved:    make(map[string]resolution),
		contexts:    make(map[string]normalize.Context),
	}
}

// fork returns a shard of the run for one parallel worker: private
// accumulators, shared diagnostics.
func (r *BatchRunContext) fork() *BatchRunContext {
	return &BatchRunContext{
		ID:          r.ID,
		Vertical:    r.Vertical,
		StartedAt:   r.StartedAt,
		Absolute:    stats.NewAccumulator(),
		Relative:    stats.NewAccumulator(),
		Diagnostics: r.Diagnostics,
		logger:      r.logger,
		metrics:     r.metrics,
		resolved:    make(map[string]resolution),
		contexts:    make(map[string]normalize.Context),
	}
}

// merge folds the accumulators of a shard into r.
func (r *BatchRunContext) merge(shard *BatchRunContext) {
	r.Absolute.Merge(shard.Absolute)
	r.Relative.Merge(shard.Relative)
	clear(r.contexts)
}

// Logger returns the run-scoped logger.
func (r *BatchRunContext) Logger() *slog.Logger {
	return r.logger
}

// trackFrequency reports whether values of name must be counted in a
// frequency table: only when its resolved normalization reads one.
func (r *BatchRunContext) trackFrequency(name string) bool {
	resolved, err := r.resolve(name)
	return err == nil && resolved.Strategy.NeedsFrequencies()
}

// resolve returns the normalization policy of score name, resolving it once
// per run.
func (r *BatchRunContext) resolve(name string) (policy.Resolved, error) {
	res, ok := r.resolved[name]
	if !ok {
		res.policy, res.err = r.Vertical.Resolve(name)
		r.resolved[name] = res
	}
	return res.policy, res.err
}

// Record validates value, stores it as the absolute value of score name on
// p and folds it into the run statistics. A NaN or infinite value is
// reported as ErrMissingValue and the score is dropped for p.
func (r *BatchRunContext) Record(p *product.Product, name string, value float64) (*product.Score, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		err := fmt.Errorf("%w: %g", ErrMissingValue, value)
		r.Diagnostics.Warn(CodeMissingValue, p.ID, name, err)
		return nil, err
	}

	s := product.NewScore(name, value)
	p.SetScore(s)
	r.Absolute.Increment(name, value, false)
	r.Relative.Increment(name, value, r.trackFrequency(name))
	delete(r.contexts, name)
	r.metrics.incScore(r.Vertical.ID, name)
	return s, nil
}

// NormalizeContext returns the statistics the run normalizes score name
// against. The context is built once and reused until name records a new value.
func (r *BatchRunContext) NormalizeContext(name string) normalize.Context {
	sc, ok := r.contexts[name]
	if !ok {
		c, _ := r.Relative.Cardinality(name)
		sc = normalize.NewContext(c, r.Relative.Frequencies(name))
		r.contexts[name] = sc
	}
	return sc
}

// Normalize relativizes value for score name with the vertical's policy,
// applying inversion after normalization.
func (r *BatchRunContext) Normalize(name string, value float64) (normalize.Result, policy.Resolved, error) {
	resolved, err := r.resolve(name)
	if err != nil {
		return normalize.Result{}, resolved, err
	}
	res, err := normalize.Normalize(resolved.Strategy, value, r.NormalizeContext(name), resolved.Params)
	if err != nil {
		return normalize.Result{}, resolved, err
	}
	if resolved.Invert {
		res.Value = resolved.Params.Scale.Invert(res.Value)
	}
	return res, resolved, nil
}
