package aggregation

import (
	"context"
	"fmt"

	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/stats"
)

// Backfill gives every product lacking one of names a virtual score holding
// the batch mean, so later passes see every product for every score.
// It returns the number of scores synthesized.
func Backfill(run *BatchRunContext, products []*product.Product, names []string) int {
	added := 0
	for _, name := range names {
		c, ok := run.Relative.Cardinality(name)
		if !ok || c.Empty() {
			continue
		}
		mean := c.Avg()
		for _, p := range products {
			if p.Score(name) != nil {
				continue
			}
			p.SetScore(&product.Score{
				Name:     name,
				Value:    mean,
				Absolute: &product.Measure{Value: mean},
				Virtual:  true,
			})
			added++
		}
	}
	return added
}

// Relativize normalizes the absolute value of every score in names on every
// product holding it, using the run statistics of that score name. The
// result becomes the score's relative measure and display value.
//
// A configuration error drops the relative value of the affected scores and
// is recorded as a diagnostics failure; the run goes on. Cancelling ctx
// stops the pass between score names.
func Relativize(ctx context.Context, run *BatchRunContext, products []*product.Product, names []string) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		relativizeScore(run, products, name)
	}
	return nil
}

func relativizeScore(run *BatchRunContext, products []*product.Product, name string) {
	absolute, _ := run.Absolute.Cardinality(name)

	var relative stats.Cardinality
	var held []*product.Score

	for _, p := range products {
		s := p.Score(name)
		if s == nil {
			continue
		}

		res, resolved, err := run.Normalize(name, s.AbsoluteValue())
		if err != nil {
			s.Relative = nil
			s.Ranking = nil
			run.Diagnostics.Fail(p.ID, name, err)
			continue
		}
		if resolved.Legacy {
			run.Diagnostics.WarnOnce(CodeLegacyNormalization, name,
				fmt.Sprintf("score has no normalization method, using legacy %s", resolved.Strategy.Method()))
		}
		if res.Approximate {
			s.SetMetadata("approximate", "true")
			run.Diagnostics.WarnOnce(CodeApproximateNormalize, name,
				fmt.Sprintf("degenerate distribution, %s fell back to the scale midpoint", resolved.Strategy.Method()))
		}

		s.Relative = &product.Measure{Value: res.Value}
		s.Value = res.Value
		relative.Increment(res.Value)
		held = append(held, s)
	}

	for _, s := range held {
		abs := product.Measure{Value: s.AbsoluteValue()}.WithStats(absolute)
		s.Absolute = &abs
		s.Relative = &product.Measure{
			Value:        s.Relative.Value,
			Min:          relative.Min,
			Max:          relative.Max,
			Avg:          relative.Avg(),
			Count:        absolute.Count,
			Sum:          absolute.Sum,
			SumOfSquares: absolute.SumOfSquares,
		}
	}
}

// KeepAbsolute finalizes a score whose absolute value is already on the
// display scale: the relative measure mirrors the absolute one and the
// display value stays absolute.
func KeepAbsolute(run *BatchRunContext, products []*product.Product, name string) {
	absolute, _ := run.Absolute.Cardinality(name)
	for _, p := range products {
		s := p.Score(name)
		if s == nil {
			continue
		}
		abs := product.Measure{Value: s.AbsoluteValue()}.WithStats(absolute)
		rel := abs
		s.Absolute = &abs
		s.Relative = &rel
		s.Value = abs.Value
	}
}
