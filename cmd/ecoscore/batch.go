package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/onnwee/ecoscore/internal/aggregation"
	"github.com/onnwee/ecoscore/internal/brand"
	"github.com/onnwee/ecoscore/internal/product"
)

var errEmptyBatch = errors.New("batch contains no products")

// decodeBatch reads a JSON array of products. Products without a vertical
// are assigned to vertical; products of another vertical are rejected.
func decodeBatch(r io.Reader, vertical string) ([]*product.Product, error) {
	var products []*product.Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	if len(products) == 0 {
		return nil, errEmptyBatch
	}

	seen := make(map[string]struct{}, len(products))
	for i, p := range products {
		if p == nil {
			return nil, fmt.Errorf("product %d: null entry", i)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("product %d: missing id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("product %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		switch p.Vertical {
		case "":
			p.Vertical = vertical
		case vertical:
		default:
			return nil, fmt.Errorf("product %s: belongs to vertical %q", p.ID, p.Vertical)
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]string)
		}
	}
	return products, nil
}

// loadBrandRatings reads a JSON object of rating source -> brand -> rating.
func loadBrandRatings(path string) (*brand.InMemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brand ratings: %w", err)
	}
	var doc map[string]map[string]float64
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode brand ratings: %w", err)
	}

	source := brand.NewInMemorySource()
	for name, ratings := range doc {
		for b, rating := range ratings {
			source.Set(name, b, rating)
		}
	}
	return source, nil
}

// runSummary is the JSON view of a finished run.
type runSummary struct {
	RunID         string         `json:"run_id"`
	Vertical      string         `json:"vertical"`
	Products      int            `json:"products"`
	Virtual       int            `json:"virtual"`
	Scores        []string       `json:"scores"`
	Ranked        map[string]int `json:"ranked"`
	Warnings      int            `json:"warnings"`
	Failures      int            `json:"failures"`
	UnknownBrands int64          `json:"unknown_brands"`
	DurationMS    int64          `json:"duration_ms"`
	RequestID     string         `json:"request_id,omitempty"`
}

func summarize(r *aggregation.Result) runSummary {
	return runSummary{
		RunID:         r.RunID,
		Vertical:      r.Vertical,
		Products:      r.Products,
		Virtual:       r.Virtual,
		Scores:        r.ScoreNames,
		Ranked:        r.Ranked,
		Warnings:      len(r.Diagnostics.Warnings()),
		Failures:      len(r.Diagnostics.Failures()),
		UnknownBrands: r.Diagnostics.UnknownBrands(),
		DurationMS:    r.Duration.Milliseconds(),
	}
}

// batchOutput is the document written by score --output and POST /score.
type batchOutput struct {
	Summary  runSummary         `json:"summary"`
	Products []*product.Product `json:"products"`
}
