package aggregation

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/ecoscore/internal/brand"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
)

func ptr(v float64) *float64 { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// vertical merges v over the defaults and validates it.
func vertical(t *testing.T, v policy.Vertical) *policy.Vertical {
	t.Helper()
	if v.ID == "" {
		v.ID = "tv"
	}
	merged := policy.Merge(policy.Defaults(), v)
	require.NoError(t, merged.Validate())
	return &merged
}

// productsWith builds one product per value, storing value under attribute.
func productsWith(attribute string, values ...float64) []*product.Product {
	out := make([]*product.Product, 0, len(values))
	for i, v := range values {
		p := product.New("p"+strconv.Itoa(i+1), "tv")
		p.Attributes[attribute] = strconv.FormatFloat(v, 'f', -1, 64)
		out = append(out, p)
	}
	return out
}

func newEngine(ratings brand.RatingSource, workers int) *Engine {
	return NewEngine(Config{Logger: discardLogger(), Workers: workers}, DefaultProducers(ratings)...)
}

func runBatch(t *testing.T, e *Engine, v *policy.Vertical, products []*product.Product) *Result {
	t.Helper()
	result, err := e.Run(context.Background(), v, products)
	require.NoError(t, err)
	return result
}

func byID(products []*product.Product, id string) *product.Product {
	for _, p := range products {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// withRelative builds a product carrying already relativized scores.
func withRelative(id string, scores map[string]float64) *product.Product {
	p := product.New(id, "tv")
	for name, v := range scores {
		s := product.NewScore(name, v)
		s.Relative = &product.Measure{Value: v}
		p.SetScore(s)
	}
	return p
}
