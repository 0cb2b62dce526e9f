// Package normalize maps absolute score values onto a bounded display scale
// using the batch's accumulated statistics.
package normalize

import (
	"fmt"
	"math"
	"strings"
)

// MaxRating is the upper bound of the default display scale.
const MaxRating = 5.0

// degenerateEpsilon is the width below which computed bounds are considered collapsed.
const degenerateEpsilon = 1e-6

// Scale is the closed interval normalized values are mapped into.
type Scale struct {
	Min float64 `koanf:"min" json:"min"`
	Max float64 `koanf:"max" json:"max"`
}

// DefaultScale returns [0, MaxRating].
func DefaultScale() Scale {
	return Scale{Min: 0, Max: MaxRating}
}

// Validate returns ErrInvalidBounds when Max does not exceed Min.
func (s Scale) Validate() error {
	if s.Max <= s.Min {
		return fmt.Errorf("%w: scale [%g, %g]", ErrInvalidBounds, s.Min, s.Max)
	}
	return nil
}

// Midpoint returns the center of the scale.
func (s Scale) Midpoint() float64 {
	return (s.Min + s.Max) / 2
}

// Clamp restricts v to [Min, Max]. NaN maps to the midpoint.
func (s Scale) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.Midpoint()
	}
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Invert reflects v around the scale midpoint, for "lower is better" criteria.
func (s Scale) Invert(v float64) float64 {
	return s.Max + s.Min - v
}

// project linearly maps v from [lo, hi] onto the scale and clamps the result.
// Callers guarantee hi > lo. Operands are halved so the differences of
// finite values near ±MaxFloat64 do not overflow.
func (s Scale) project(v, lo, hi float64) float64 {
	t := (v/2 - lo/2) / (hi/2 - lo/2)
	return s.Clamp(s.Min + t*(s.Max-s.Min))
}

// DegeneratePolicy selects what a distribution-based strategy returns when the
// batch distribution has no spread.
type DegeneratePolicy string

const (
	// DegenerateNeutral returns the scale midpoint.
	DegenerateNeutral DegeneratePolicy = "NEUTRAL"
	// DegenerateError fails with ErrDegenerateDistribution.
	DegenerateError DegeneratePolicy = "ERROR"
	// DegenerateWarnFallback returns the scale midpoint flagged as approximate.
	DegenerateWarnFallback DegeneratePolicy = "WARN_FALLBACK"
)

// ParseDegeneratePolicy parses a policy name case-insensitively.
// An empty name yields DegenerateNeutral.
func ParseDegeneratePolicy(name string) (DegeneratePolicy, error) {
	switch p := DegeneratePolicy(strings.ToUpper(strings.TrimSpace(name))); p {
	case "":
		return DegenerateNeutral, nil
	case DegenerateNeutral, DegenerateError, DegenerateWarnFallback:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDegeneratePolicy, name)
	}
}

// Params carries the policy settings shared by every strategy.
type Params struct {
	Scale      Scale
	Degenerate DegeneratePolicy
}

// Result is a normalized value. Approximate marks values produced by a
// fallback rather than by the configured method.
type Result struct {
	Value       float64
	Approximate bool
}

func (p Params) degenerate(method Method) (Result, error) {
	switch p.Degenerate {
	case DegenerateNeutral, "":
		return Result{Value: p.Scale.Midpoint()}, nil
	case DegenerateWarnFallback:
		return Result{Value: p.Scale.Midpoint(), Approximate: true}, nil
	case DegenerateError:
		return Result{}, fmt.Errorf("%w: %s", ErrDegenerateDistribution, method)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownDegeneratePolicy, p.Degenerate)
	}
}
