package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestCardinality_Empty(t *testing.T) {
	var c Cardinality

	assert.True(t, c.Empty())
	assert.Equal(t, 0.0, c.Avg())
	assert.Equal(t, 0.0, c.StdDev())
}

func TestCardinality_Increment(t *testing.T) {
	var c Cardinality
	for _, v := range []float64{10, 20, 30} {
		c.Increment(v)
	}

	assert.Equal(t, int64(3), c.Count)
	assert.Equal(t, 60.0, c.Sum)
	assert.Equal(t, 1400.0, c.SumOfSquares)
	assert.Equal(t, 10.0, c.Min)
	assert.Equal(t, 30.0, c.Max)
	assert.Equal(t, 20.0, c.Avg())
	assert.InDelta(t, 8.1650, c.StdDev(), 1e-4)
}

func TestCardinality_NegativeFirstValue(t *testing.T) {
	var c Cardinality
	c.Increment(-5)
	c.Increment(-2)

	assert.Equal(t, -5.0, c.Min)
	assert.Equal(t, -2.0, c.Max)
}

func TestCardinality_ConstantValuesHaveZeroStdDev(t *testing.T) {
	var c Cardinality
	for i := 0; i < 5; i++ {
		c.Increment(0.1)
	}

	assert.Equal(t, 0.0, c.StdDev())
	assert.False(t, math.IsNaN(c.StdDev()))
}

func TestCardinality_MatchesPopulationStatistics(t *testing.T) {
	samples := []float64{3.5, 1, 7.25, 7.25, 2, 9.5, 4, 0.5}

	var c Cardinality
	for _, v := range samples {
		c.Increment(v)
	}

	mean, std := stat.PopMeanStdDev(samples, nil)
	assert.InDelta(t, mean, c.Avg(), 1e-9)
	assert.InDelta(t, std, c.StdDev(), 1e-9)
}

func TestCardinality_Merge(t *testing.T) {
	samples := []float64{4, 8, 15, 16, 23, 42}

	var whole Cardinality
	for _, v := range samples {
		whole.Increment(v)
	}

	var left, right Cardinality
	for i, v := range samples {
		if i%2 == 0 {
			left.Increment(v)
		} else {
			right.Increment(v)
		}
	}

	ab := left
	ab.Merge(right)
	ba := right
	ba.Merge(left)

	require.Equal(t, whole, ab)
	assert.Equal(t, ab, ba)
}

func TestCardinality_MergeEmpty(t *testing.T) {
	var c, empty Cardinality
	c.Increment(3)

	c.Merge(empty)
	assert.Equal(t, int64(1), c.Count)

	empty.Merge(c)
	assert.Equal(t, c, empty)
}
