package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/onnwee/ecoscore/internal/stats"
)

// Method names a normalization strategy.
type Method string

const (
	MethodSigma          Method = "SIGMA"
	MethodPercentile     Method = "PERCENTILE"
	MethodMinMaxFixed    Method = "MINMAX_FIXED"
	MethodMinMaxObserved Method = "MINMAX_OBSERVED"
	MethodMinMaxQuantile Method = "MINMAX_QUANTILE"
	MethodFixedMapping   Method = "FIXED_MAPPING"
	MethodBinary         Method = "BINARY"
	MethodConstant       Method = "CONSTANT"
)

// DefaultSigmaK is the number of standard deviations used when Sigma.K is unset.
const DefaultSigmaK = 2.0

// ParseMethod parses a method name case-insensitively.
func ParseMethod(name string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(name))); m {
	case MethodSigma, MethodPercentile, MethodMinMaxFixed, MethodMinMaxObserved,
		MethodMinMaxQuantile, MethodFixedMapping, MethodBinary, MethodConstant:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// Context is the batch statistical context of one score name.
type Context struct {
	Cardinality stats.Cardinality
	Frequencies stats.FrequencyTable

	dist *stats.Distribution
}

// NewContext returns a context with the frequency table sorted up front, for
// normalizing every value of a batch against the same statistics.
func NewContext(c stats.Cardinality, f stats.FrequencyTable) Context {
	return Context{Cardinality: c, Frequencies: f, dist: f.Distribution()}
}

func (sc Context) distribution() *stats.Distribution {
	if sc.dist != nil {
		return sc.dist
	}
	return sc.Frequencies.Distribution()
}

// Strategy is a normalization method together with its parameters.
// The set of strategies is closed: only the types in this package implement it.
type Strategy interface {
	// Method returns the method name of the strategy.
	Method() Method
	// NeedsFrequencies reports whether the strategy reads the frequency table.
	NeedsFrequencies() bool

	apply(value float64, sc Context, p Params) (Result, error)
}

// Normalize maps value onto p.Scale with strategy s.
func Normalize(s Strategy, value float64, sc Context, p Params) (Result, error) {
	if s == nil {
		return Result{}, fmt.Errorf("%w: no strategy", ErrUnknownMethod)
	}
	if err := p.Scale.Validate(); err != nil {
		return Result{}, err
	}
	return s.apply(value, sc, p)
}

// Legacy returns the strategy used for scores without a configured method:
// the mid-rank percentile when percentileByDistinct is set, otherwise the
// ±2σ linear formula. Both resolve degenerate distributions to the midpoint.
func Legacy(percentileByDistinct bool) Strategy {
	if percentileByDistinct {
		return Percentile{}
	}
	return Sigma{K: DefaultSigmaK}
}

// Sigma maps [mean - K·σ, mean + K·σ] onto the scale.
type Sigma struct {
	K float64
}

func (Sigma) Method() Method         { return MethodSigma }
func (Sigma) NeedsFrequencies() bool { return false }

func (s Sigma) apply(value float64, sc Context, p Params) (Result, error) {
	c := sc.Cardinality
	if c.Empty() || c.Max <= c.Min {
		return p.degenerate(MethodSigma)
	}
	k := s.K
	if k <= 0 {
		k = DefaultSigmaK
	}
	// Sums of values beyond ~1e154 overflow, leaving σ or the bounds non-finite.
	sd := c.StdDev()
	lower := c.Avg() - k*sd
	upper := c.Avg() + k*sd
	if !isFinite(lower) || !isFinite(upper) || sd == 0 || upper-lower < degenerateEpsilon {
		return p.degenerate(MethodSigma)
	}
	return Result{Value: p.Scale.project(value, lower, upper)}, nil
}

// Percentile maps the mid-rank percentile of value within the batch onto the scale.
type Percentile struct{}

func (Percentile) Method() Method         { return MethodPercentile }
func (Percentile) NeedsFrequencies() bool { return true }

func (Percentile) apply(value float64, sc Context, p Params) (Result, error) {
	d := sc.distribution()
	total := d.Total()
	if total == 0 || d.Distinct() < 2 {
		return p.degenerate(MethodPercentile)
	}
	rank := (float64(d.CountBelow(value)) + 0.5*float64(d.CountAt(value))) / float64(total)
	return Result{Value: p.Scale.Clamp(p.Scale.Min + rank*(p.Scale.Max-p.Scale.Min))}, nil
}

// MinMaxFixed maps the configured [Min, Max] onto the scale.
type MinMaxFixed struct {
	Min *float64
	Max *float64
}

func (MinMaxFixed) Method() Method         { return MethodMinMaxFixed }
func (MinMaxFixed) NeedsFrequencies() bool { return false }

func (m MinMaxFixed) apply(value float64, _ Context, p Params) (Result, error) {
	if m.Min == nil || m.Max == nil {
		return Result{}, fmt.Errorf("%w: %s requires fixed min and max", ErrMissingPolicyParameter, MethodMinMaxFixed)
	}
	if *m.Max <= *m.Min {
		return Result{}, fmt.Errorf("%w: fixed [%g, %g]", ErrInvalidBounds, *m.Min, *m.Max)
	}
	return Result{Value: p.Scale.project(value, *m.Min, *m.Max)}, nil
}

// MinMaxObserved maps the batch's observed [min, max] onto the scale.
type MinMaxObserved struct{}

func (MinMaxObserved) Method() Method         { return MethodMinMaxObserved }
func (MinMaxObserved) NeedsFrequencies() bool { return false }

func (MinMaxObserved) apply(value float64, sc Context, p Params) (Result, error) {
	c := sc.Cardinality
	if c.Empty() {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingStatistics, MethodMinMaxObserved)
	}
	if c.Max <= c.Min {
		return Result{}, fmt.Errorf("%w: observed [%g, %g]", ErrInvalidBounds, c.Min, c.Max)
	}
	return Result{Value: p.Scale.project(value, c.Min, c.Max)}, nil
}

// MinMaxQuantile maps the batch values found at the Low and High quantiles
// onto the scale. Quantiles are in [0, 1] with Low < High.
type MinMaxQuantile struct {
	Low  float64
	High float64
}

func (MinMaxQuantile) Method() Method         { return MethodMinMaxQuantile }
func (MinMaxQuantile) NeedsFrequencies() bool { return true }

func (m MinMaxQuantile) apply(value float64, sc Context, p Params) (Result, error) {
	if m.Low < 0 || m.High > 1 || m.Low >= m.High {
		return Result{}, fmt.Errorf("%w: quantiles [%g, %g]", ErrInvalidBounds, m.Low, m.High)
	}
	d := sc.distribution()
	n := d.Total()
	if n == 0 {
		return p.degenerate(MethodMinMaxQuantile)
	}
	lower, _ := d.At(quantileIndex(m.Low, n))
	upper, _ := d.At(quantileIndex(m.High, n))
	if upper-lower < degenerateEpsilon {
		return p.degenerate(MethodMinMaxQuantile)
	}
	return Result{Value: p.Scale.project(value, lower, upper)}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func quantileIndex(q float64, n int64) int64 {
	return int64(math.Round(q * float64(n-1)))
}

// FixedMapping looks the value up in a table keyed by MappingKey. Table
// values outside the scale are clamped.
type FixedMapping struct {
	Table map[string]float64
}

func (FixedMapping) Method() Method         { return MethodFixedMapping }
func (FixedMapping) NeedsFrequencies() bool { return false }

func (m FixedMapping) apply(value float64, _ Context, p Params) (Result, error) {
	key := MappingKey(value)
	mapped, ok := m.Table[key]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingMappingEntry, key)
	}
	return Result{Value: p.Scale.Clamp(mapped)}, nil
}

// MappingKey formats value as a decimal string without trailing zeros,
// so 2.0 and 2 share the key "2", and -0 and 0 share "0".
func MappingKey(value float64) string {
	if value == 0 {
		return "0"
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NormalizeMappingKeys rewrites numeric keys of table into MappingKey form.
// Keys that do not parse as numbers are kept as they are.
func NormalizeMappingKeys(table map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(table))
	for k, v := range table {
		if f, err := strconv.ParseFloat(strings.TrimSpace(k), 64); err == nil {
			out[MappingKey(f)] = v
			continue
		}
		out[k] = v
	}
	return out
}

// Binary returns the scale maximum when value passes Threshold and the scale
// minimum otherwise. A value passes when it is >= Threshold, or <= Threshold
// when PassWhenLower is set.
type Binary struct {
	Threshold     *float64
	PassWhenLower bool
}

func (Binary) Method() Method         { return MethodBinary }
func (Binary) NeedsFrequencies() bool { return false }

func (b Binary) apply(value float64, _ Context, p Params) (Result, error) {
	if b.Threshold == nil {
		return Result{}, fmt.Errorf("%w: %s requires a threshold", ErrMissingPolicyParameter, MethodBinary)
	}
	pass := value >= *b.Threshold
	if b.PassWhenLower {
		pass = value <= *b.Threshold
	}
	if pass {
		return Result{Value: p.Scale.Max}, nil
	}
	return Result{Value: p.Scale.Min}, nil
}

// Constant returns Value, or the scale midpoint when Value is unset.
type Constant struct {
	Value *float64
}

func (Constant) Method() Method         { return MethodConstant }
func (Constant) NeedsFrequencies() bool { return false }

func (c Constant) apply(_ float64, _ Context, p Params) (Result, error) {
	if c.Value == nil {
		return Result{Value: p.Scale.Midpoint()}, nil
	}
	return Result{Value: p.Scale.Clamp(*c.Value)}, nil
}
