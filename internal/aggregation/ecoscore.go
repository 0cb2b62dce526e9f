package aggregation

import (
	"context"
	"fmt"
	"math"

	"github.com/onnwee/ecoscore/internal/product"
)

// EcoScorer computes the composite score of a vertical as the weighted sum
// of the relativized criteria scores.
//
// A missing criterion with zero weight is skipped. A missing criterion with
// a positive weight contributes 0 and is reported as a warning. A product
// with no criterion at all gets no composite; a composite built only from
// virtual criteria is itself virtual and is left out of the ranking.
//
// The composite is already on the display scale, so it is not relativized:
// its display value stays its absolute value. Any unexpected error aborts
// the whole run.
type EcoScorer struct{}

// NewEcoScorer creates an EcoScorer.
func NewEcoScorer() *EcoScorer { return &EcoScorer{} }

func (*EcoScorer) Name() string { return "ecoscore" }

func (*EcoScorer) OnProduct(context.Context, *BatchRunContext, *product.Product) error {
	return nil
}

func (e *EcoScorer) Finish(_ context.Context, run *BatchRunContext, products []*product.Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCompositeAborted, r)
		}
	}()

	weights := run.Vertical.Composite.Weights
	if len(weights) == 0 {
		return nil
	}
	name := run.Vertical.CompositeName()
	criteria := sortedWeights(weights)

	for _, p := range products {
		if err := composeProduct(run, p, name, criteria); err != nil {
			return err
		}
	}

	KeepAbsolute(run, products, name)
	return nil
}

func composeProduct(run *BatchRunContext, p *product.Product, name string, criteria []weighted) error {
	p.RemoveScore(name)

	total := 0.0
	present := 0
	hasReal := false
	contributions := make(map[string]float64, len(criteria))
	var missing []string

	for _, c := range criteria {
		s := p.Score(c.name)
		if s == nil || s.Relative == nil {
			if c.weight > 0 {
				missing = append(missing, c.name)
				contributions[c.name] = 0
			}
			continue
		}
		contributions[c.name] = s.Relative.Value
		total += c.weight * s.Relative.Value
		present++
		if !s.Virtual {
			hasReal = true
		}
	}

	if present == 0 {
		return nil
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return fmt.Errorf("%w: product %s: non-finite composite %g", ErrCompositeAborted, p.ID, total)
	}

	for _, criterion := range missing {
		run.Diagnostics.Warn(CodeMissingSubscore, p.ID, name,
			fmt.Errorf("%w: %s counted as 0", ErrMissingSubscore, criterion))
	}

	if !hasReal {
		p.SetScore(&product.Score{
			Name:       name,
			Value:      total,
			Absolute:   &product.Measure{Value: total},
			Virtual:    true,
			Aggregates: contributions,
		})
		return nil
	}

	s, err := run.Record(p, name, total)
	if err != nil {
		return fmt.Errorf("%w: product %s: %w", ErrCompositeAborted, p.ID, err)
	}
	s.Aggregates = contributions
	return nil
}
