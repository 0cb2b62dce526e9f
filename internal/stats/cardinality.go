// Package stats provides the running distribution statistics accumulated for
// each score name during a batch run.
package stats

import (
	"fmt"
	"math"
)

// Cardinality is an incremental statistics accumulator for one named score.
// Mean and standard deviation are derived from the running sums and never
// stored. The zero value is an empty accumulator ready for use.
type Cardinality struct {
	Count        int64   `json:"count"`
	Sum          float64 `json:"sum"`
	SumOfSquares float64 `json:"sum_of_squares"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
}

// Increment folds a finite value into the accumulator.
// Callers must reject NaN and infinite values before calling.
func (c *Cardinality) Increment(value float64) {
	if c.Count == 0 || value < c.Min {
		c.Min = value
	}
	if c.Count == 0 || value > c.Max {
		c.Max = value
	}
	c.Count++
	c.Sum += value
	c.SumOfSquares += value * value
}

// Merge folds other into c. Merging is commutative, so shards filled by
// parallel workers can be combined in any order.
func (c *Cardinality) Merge(other Cardinality) {
	if other.Count == 0 {
		return
	}
	if c.Count == 0 {
		*c = other
		return
	}
	c.Min = math.Min(c.Min, other.Min)
	c.Max = math.Max(c.Max, other.Max)
	c.Count += other.Count
	c.Sum += other.Sum
	c.SumOfSquares += other.SumOfSquares
}

// Empty reports whether no value has been accumulated.
func (c Cardinality) Empty() bool {
	return c.Count == 0
}

// Avg returns the mean, or 0 for an empty accumulator.
func (c Cardinality) Avg() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Sum / float64(c.Count)
}

// StdDev returns the population standard deviation, or 0 for an empty
// accumulator or a single distinct value. Negative variance from floating
// point cancellation is clamped to zero.
func (c Cardinality) StdDev() float64 {
	if c.Count == 0 || c.Max == c.Min {
		return 0
	}
	avg := c.Avg()
	variance := c.SumOfSquares/float64(c.Count) - avg*avg
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// String returns a compact summary for logs.
func (c Cardinality) String() string {
	return fmt.Sprintf("count=%d min=%g max=%g avg=%g stddev=%g", c.Count, c.Min, c.Max, c.Avg(), c.StdDev())
}
