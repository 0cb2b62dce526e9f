package aggregation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/onnwee/ecoscore/internal/brand"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
)

// perItem provides the no-op Finish of producers that only act per product.
type perItem struct{}

func (perItem) Finish(context.Context, *BatchRunContext, []*product.Product) error { return nil }

// AttributeScorer turns the attributes declared by the vertical's attribute
// rules into scores. A product lacking an attribute gets no score for it
// and is backfilled later.
type AttributeScorer struct{ perItem }

// NewAttributeScorer creates an AttributeScorer.
func NewAttributeScorer() *AttributeScorer { return &AttributeScorer{} }

func (*AttributeScorer) Name() string { return "attribute" }

func (*AttributeScorer) OnProduct(_ context.Context, run *BatchRunContext, p *product.Product) error {
	for _, rule := range run.Vertical.Attributes {
		raw, ok := p.Attribute(rule.Attribute)
		if !ok {
			continue
		}

		name := rule.ScoreName()
		value, err := ParseAttribute(raw, rule)
		if err != nil {
			run.Diagnostics.Warn(attributeCode(err), p.ID, name, err)
			continue
		}

		s, err := run.Record(p, name, value)
		if err != nil {
			continue
		}
		s.SetMetadata("attribute", rule.Attribute)
	}
	return nil
}

// ParseAttribute resolves the numeric value of a raw attribute: a direct
// number, or the rule's categorical mapping matched case-insensitively.
func ParseAttribute(raw string, rule policy.AttributeRule) (float64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("%w: attribute %s is empty", ErrMissingValue, rule.Attribute)
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f, nil
	}

	if len(rule.Mapping) == 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrUnparsableAttribute, rule.Attribute, value)
	}
	for key, mapped := range rule.Mapping {
		if strings.EqualFold(strings.TrimSpace(key), value) {
			return mapped, nil
		}
	}
	return 0, fmt.Errorf("%w: %s=%q", ErrUnresolvedMapping, rule.Attribute, value)
}

func attributeCode(err error) Code {
	switch {
	case errors.Is(err, ErrMissingValue):
		return CodeMissingValue
	case errors.Is(err, ErrUnresolvedMapping):
		return CodeUnresolvedMapping
	default:
		return CodeUnparsableAttribute
	}
}

// BrandScorer scores the sustainability rating of the product's brand.
// Unresolved brands are counted in the diagnostics and skipped.
type BrandScorer struct {
	perItem
	source brand.RatingSource
}

// NewBrandScorer creates a BrandScorer reading ratings from source.
func NewBrandScorer(source brand.RatingSource) *BrandScorer {
	return &BrandScorer{source: source}
}

func (*BrandScorer) Name() string { return "brand" }

func (b *BrandScorer) OnProduct(ctx context.Context, run *BatchRunContext, p *product.Product) error {
	rule := run.Vertical.Brand
	if rule.Score == "" || b.source == nil {
		return nil
	}
	if brand.Key(p.Brand) == "" {
		run.Diagnostics.UnknownBrand(p.ID, p.Brand)
		return nil
	}

	rating, err := b.source.Rating(ctx, rule.Source, p.Brand)
	if errors.Is(err, brand.ErrUnknownBrand) {
		run.Diagnostics.UnknownBrand(p.ID, p.Brand)
		return nil
	}
	if err != nil {
		run.Diagnostics.Warn(CodeUnresolvedBrand, p.ID, rule.Score, fmt.Errorf("%w: %s: %w", ErrUnresolvedBrand, p.Brand, err))
		return nil
	}

	s, err := run.Record(p, rule.Score, rating)
	if err != nil {
		return nil
	}
	s.SetMetadata("brand", p.Brand)
	return nil
}

// CompletenessScorer scores how many real scores a product already carries,
// excluding itself. Every product gets it, however sparse its data. It must
// run after the producers whose scores it counts.
type CompletenessScorer struct{ perItem }

// NewCompletenessScorer creates a CompletenessScorer.
func NewCompletenessScorer() *CompletenessScorer { return &CompletenessScorer{} }

func (*CompletenessScorer) Name() string { return "completeness" }

func (*CompletenessScorer) OnProduct(_ context.Context, run *BatchRunContext, p *product.Product) error {
	name := run.Vertical.CompletenessScore
	if name == "" {
		return nil
	}
	_, _ = run.Record(p, name, float64(p.RealScoreCount(name)))
	return nil
}

// DefaultProducers returns the standard producer chain in execution order.
func DefaultProducers(ratings brand.RatingSource) []ScoreProducer {
	return []ScoreProducer{
		NewAttributeScorer(),
		NewBrandScorer(ratings),
		NewCompletenessScorer(),
		NewParticipatingScorer(),
		NewEcoScorer(),
	}
}
