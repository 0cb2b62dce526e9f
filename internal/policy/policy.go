// Package policy holds the per-vertical scoring policies: which scores are
// derived from which attributes, how each score is normalized, and how
// scores combine into the composite.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/ecoscore/internal/normalize"
)

// Default score names.
const (
	DefaultCompositeName    = "ECOSCORE"
	DefaultCompletenessName = "DATA_QUALITY"
	DefaultBrandScoreName   = "BRAND_SUSTAINABILITY"
)

// Default quantiles for MINMAX_QUANTILE when the criterion sets none.
const (
	DefaultQuantileLow  = 0.05
	DefaultQuantileHigh = 0.95
)

var (
	// ErrVerticalNotFound is returned when no policy exists for a vertical.
	ErrVerticalNotFound = errors.New("vertical not found")

	// ErrInvalidPolicy wraps every validation failure of a vertical policy.
	ErrInvalidPolicy = errors.New("invalid scoring policy")
)

// Criterion is the normalization policy of one score name.
type Criterion struct {
	Method        string             `koanf:"method"`
	SigmaK        float64            `koanf:"sigma_k"`
	QuantileLow   *float64           `koanf:"quantile_low"`
	QuantileHigh  *float64           `koanf:"quantile_high"`
	FixedMin      *float64           `koanf:"fixed_min"`
	FixedMax      *float64           `koanf:"fixed_max"`
	Mapping       map[string]float64 `koanf:"mapping"`
	Threshold     *float64           `koanf:"threshold"`
	PassWhenLower bool               `koanf:"pass_when_lower"`
	Constant      *float64           `koanf:"constant"`
	LowerIsBetter bool               `koanf:"lower_is_better"`
	Degenerate    string             `koanf:"degenerate"`
}

// Participation declares that an attribute score contributes to an aggregate score.
type Participation struct {
	Aggregate string  `koanf:"aggregate"`
	Weight    float64 `koanf:"weight"`
}

// AttributeRule derives a score from a product attribute. The raw value is
// parsed as a number, or looked up in Mapping (case-insensitive) when it is
// categorical.
type AttributeRule struct {
	Attribute    string             `koanf:"attribute"`
	Score        string             `koanf:"score"`
	Mapping      map[string]float64 `koanf:"mapping"`
	Participates []Participation    `koanf:"participates"`
}

// ScoreName returns the score produced by the rule, defaulting to the
// upper-cased attribute name.
func (r AttributeRule) ScoreName() string {
	if r.Score != "" {
		return r.Score
	}
	return strings.ToUpper(r.Attribute)
}

// BrandRule enables the brand sustainability score. An empty Score disables it.
type BrandRule struct {
	Score  string `koanf:"score"`
	Source string `koanf:"source"`
}

// Composite configures the weighted composite score of a vertical.
type Composite struct {
	Name    string             `koanf:"name"`
	Weights map[string]float64 `koanf:"weights"`
}

// Vertical is the read-only scoring policy of one product category.
type Vertical struct {
	ID                string               `koanf:"id"`
	Scale             normalize.Scale      `koanf:"scale"`
	Degenerate        string               `koanf:"degenerate"`
	LegacyPercentile  bool                 `koanf:"legacy_percentile"`
	CompletenessScore string               `koanf:"completeness_score"`
	Brand             BrandRule            `koanf:"brand"`
	Attributes        []AttributeRule      `koanf:"attributes"`
	Criteria          map[string]Criterion `koanf:"criteria"`
	Composite         Composite            `koanf:"composite"`
}

// Resolved is the normalization to apply to one score name.
type Resolved struct {
	Strategy normalize.Strategy
	Params   normalize.Params
	Invert   bool
	// Legacy is set when the score has no configured method and falls back
	// to the legacy formula.
	Legacy bool
}

// Resolve returns the normalization for score name.
func (v *Vertical) Resolve(name string) (Resolved, error) {
	verticalPolicy, err := normalize.ParseDegeneratePolicy(v.Degenerate)
	if err != nil {
		return Resolved{}, err
	}

	c, ok := v.Criteria[name]
	if !ok || strings.TrimSpace(c.Method) == "" {
		return Resolved{
			Strategy: normalize.Legacy(v.LegacyPercentile),
			Params:   normalize.Params{Scale: v.Scale, Degenerate: normalize.DegenerateNeutral},
			Invert:   c.LowerIsBetter,
			Legacy:   true,
		}, nil
	}

	degenerate := verticalPolicy
	if c.Degenerate != "" {
		if degenerate, err = normalize.ParseDegeneratePolicy(c.Degenerate); err != nil {
			return Resolved{}, fmt.Errorf("criterion %s: %w", name, err)
		}
	}

	strategy, err := c.Strategy()
	if err != nil {
		return Resolved{}, fmt.Errorf("criterion %s: %w", name, err)
	}

	return Resolved{
		Strategy: strategy,
		Params:   normalize.Params{Scale: v.Scale, Degenerate: degenerate},
		Invert:   c.LowerIsBetter,
	}, nil
}

// Strategy builds the normalization strategy of the criterion.
func (c Criterion) Strategy() (normalize.Strategy, error) {
	method, err := normalize.ParseMethod(c.Method)
	if err != nil {
		return nil, err
	}

	switch method {
	case normalize.MethodSigma:
		return normalize.Sigma{K: c.SigmaK}, nil
	case normalize.MethodPercentile:
		return normalize.Percentile{}, nil
	case normalize.MethodMinMaxFixed:
		return normalize.MinMaxFixed{Min: c.FixedMin, Max: c.FixedMax}, nil
	case normalize.MethodMinMaxObserved:
		return normalize.MinMaxObserved{}, nil
	case normalize.MethodMinMaxQuantile:
		q := normalize.MinMaxQuantile{Low: DefaultQuantileLow, High: DefaultQuantileHigh}
		if c.QuantileLow != nil {
			q.Low = *c.QuantileLow
		}
		if c.QuantileHigh != nil {
			q.High = *c.QuantileHigh
		}
		return q, nil
	case normalize.MethodFixedMapping:
		if len(c.Mapping) == 0 {
			return nil, fmt.Errorf("%w: %s requires a mapping table", normalize.ErrMissingPolicyParameter, method)
		}
		return normalize.FixedMapping{Table: normalize.NormalizeMappingKeys(c.Mapping)}, nil
	case normalize.MethodBinary:
		return normalize.Binary{Threshold: c.Threshold, PassWhenLower: c.PassWhenLower}, nil
	case normalize.MethodConstant:
		return normalize.Constant{Value: c.Constant}, nil
	default:
		return nil, fmt.Errorf("%w: %q", normalize.ErrUnknownMethod, c.Method)
	}
}

// NeedsFrequencies reports whether the normalization of score name reads a
// frequency table, so the per-item pass knows whether to build one.
func (v *Vertical) NeedsFrequencies(name string) bool {
	r, err := v.Resolve(name)
	if err != nil {
		return false
	}
	return r.Strategy.NeedsFrequencies()
}

// CompositeName returns the name of the composite score.
func (v *Vertical) CompositeName() string {
	if v.Composite.Name != "" {
		return v.Composite.Name
	}
	return DefaultCompositeName
}

// Validate reports every problem of the policy joined into one error.
func (v *Vertical) Validate() error {
	var errs []error

	if v.ID == "" {
		errs = append(errs, errors.New("vertical id is required"))
	}
	if err := v.Scale.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := normalize.ParseDegeneratePolicy(v.Degenerate); err != nil {
		errs = append(errs, err)
	}

	for name, c := range v.Criteria {
		if strings.TrimSpace(c.Method) == "" {
			continue
		}
		s, err := c.Strategy()
		if err != nil {
			errs = append(errs, fmt.Errorf("criterion %s: %w", name, err))
			continue
		}
		if _, err := normalize.ParseDegeneratePolicy(c.Degenerate); err != nil {
			errs = append(errs, fmt.Errorf("criterion %s: %w", name, err))
		}
		if c.FixedMin != nil && c.FixedMax != nil && *c.FixedMax <= *c.FixedMin {
			errs = append(errs, fmt.Errorf("criterion %s: %w: fixed [%g, %g]", name, normalize.ErrInvalidBounds, *c.FixedMin, *c.FixedMax))
		}
		if q, ok := s.(normalize.MinMaxQuantile); ok && (q.Low < 0 || q.High > 1 || q.Low >= q.High) {
			errs = append(errs, fmt.Errorf("criterion %s: %w: quantiles [%g, %g]", name, normalize.ErrInvalidBounds, q.Low, q.High))
		}
	}

	seen := make(map[string]bool)
	for i, rule := range v.Attributes {
		if rule.Attribute == "" {
			errs = append(errs, fmt.Errorf("attribute rule %d: attribute is required", i))
			continue
		}
		if seen[rule.ScoreName()] {
			errs = append(errs, fmt.Errorf("attribute rule %d: duplicate score %s", i, rule.ScoreName()))
		}
		seen[rule.ScoreName()] = true
		for _, p := range rule.Participates {
			// A zero weight declares the participation but leaves it out.
			if p.Aggregate == "" || p.Weight < 0 {
				errs = append(errs, fmt.Errorf("attribute %s: participation needs an aggregate and a non-negative weight", rule.Attribute))
			}
		}
	}

	for name, w := range v.Composite.Weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("composite weight %s: must not be negative, got %g", name, w))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidPolicy, v.ID, errors.Join(errs...))
	}
	return nil
}
