package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func tableOf(values ...float64) FrequencyTable {
	f := make(FrequencyTable)
	for _, v := range values {
		f.Add(v)
	}
	return f
}

func TestFrequencyTable_Counts(t *testing.T) {
	f := tableOf(1, 2, 2, 3, 3, 3)

	assert.Equal(t, int64(6), f.Total())
	assert.Equal(t, 3, f.Distinct())
	assert.Equal(t, int64(3), f.CountBelow(3))
	assert.Equal(t, int64(0), f.CountBelow(1))
	assert.Equal(t, int64(2), f.CountAt(2))
	assert.Equal(t, int64(0), f.CountAt(4))
	assert.Equal(t, []float64{1, 2, 3}, f.SortedValues())
}

func TestFrequencyTable_At(t *testing.T) {
	f := tableOf(5, 1, 3, 3)

	tests := []struct {
		index int64
		want  float64
		ok    bool
	}{
		{0, 1, true},
		{1, 3, true},
		{2, 3, true},
		{3, 5, true},
		{4, 0, false},
		{-1, 0, false},
	}

	for _, tt := range tests {
		got, ok := f.At(tt.index)
		assert.Equal(t, tt.ok, ok, "index %d", tt.index)
		assert.Equal(t, tt.want, got, "index %d", tt.index)
	}
}

func TestDistribution_MatchesTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOf(rapid.IntRange(-5, 5)).Draw(t, "values")
		f := make(FrequencyTable)
		for _, v := range values {
			f.Add(float64(v))
		}
		d := f.Distribution()

		if d.Total() != f.Total() || d.Distinct() != f.Distinct() {
			t.Fatalf("totals disagree: %d/%d vs %d/%d", d.Total(), d.Distinct(), f.Total(), f.Distinct())
		}
		for probe := -6.0; probe <= 6; probe += 0.5 {
			if got, want := d.CountBelow(probe), f.CountBelow(probe); got != want {
				t.Fatalf("CountBelow(%g) = %d, want %d", probe, got, want)
			}
			if got, want := d.CountAt(probe), f.CountAt(probe); got != want {
				t.Fatalf("CountAt(%g) = %d, want %d", probe, got, want)
			}
		}

		sorted := make([]float64, 0, len(values))
		for _, v := range f.SortedValues() {
			for n := int64(0); n < f[v]; n++ {
				sorted = append(sorted, v)
			}
		}
		for i, want := range sorted {
			got, ok := d.At(int64(i))
			if !ok || got != want {
				t.Fatalf("At(%d) = %g, %v, want %g", i, got, ok, want)
			}
		}
		if _, ok := d.At(int64(len(sorted))); ok {
			t.Fatal("At past the end reported ok")
		}
	})
}

func TestDistribution_Empty(t *testing.T) {
	var f FrequencyTable
	d := f.Distribution()
	assert.Zero(t, d.Total())
	assert.Zero(t, d.CountBelow(1))
	assert.Zero(t, d.CountAt(1))
	_, ok := d.At(0)
	assert.False(t, ok)
}

func TestFrequencyTable_MergeAndClone(t *testing.T) {
	a := tableOf(1, 2)
	b := tableOf(2, 4)

	clone := a.Clone()
	a.Merge(b)

	assert.Equal(t, FrequencyTable{1: 1, 2: 2, 4: 1}, a)
	assert.Equal(t, FrequencyTable{1: 1, 2: 1}, clone)
}

func TestAccumulator_IncrementAndGating(t *testing.T) {
	acc := NewAccumulator()
	acc.Increment("REPAIRABILITY", 4, true)
	acc.Increment("REPAIRABILITY", 6, true)
	acc.Increment("WEIGHT", 1.2, false)

	c, ok := acc.Cardinality("REPAIRABILITY")
	assert.True(t, ok)
	assert.Equal(t, 5.0, c.Avg())
	assert.Equal(t, int64(2), acc.Frequencies("REPAIRABILITY").Total())

	assert.Nil(t, acc.Frequencies("WEIGHT"))
	assert.Equal(t, []string{"REPAIRABILITY", "WEIGHT"}, acc.Names())

	_, ok = acc.Cardinality("MISSING")
	assert.False(t, ok)
}

func TestAccumulator_MergeIsCommutative(t *testing.T) {
	build := func(values map[string][]float64) *Accumulator {
		acc := NewAccumulator()
		for name, vs := range values {
			for _, v := range vs {
				acc.Increment(name, v, true)
			}
		}
		return acc
	}

	left := map[string][]float64{"A": {1, 2}, "B": {7}}
	right := map[string][]float64{"A": {3}, "C": {9, 9}}

	ab := build(left)
	ab.Merge(build(right))
	ba := build(right)
	ba.Merge(build(left))

	assert.Equal(t, ab.Snapshot(), ba.Snapshot())
	for _, name := range []string{"A", "B", "C"} {
		assert.Equal(t, ab.Frequencies(name), ba.Frequencies(name), name)
	}

	a, _ := ab.Cardinality("A")
	assert.Equal(t, int64(3), a.Count)
	assert.Equal(t, 2.0, a.Avg())
}

func TestAccumulator_MergeDoesNotAliasFrequencies(t *testing.T) {
	src := NewAccumulator()
	src.Increment("A", 1, true)

	dst := NewAccumulator()
	dst.Merge(src)
	dst.Increment("A", 2, true)

	assert.Equal(t, int64(1), src.Frequencies("A").Total())
	assert.Equal(t, int64(2), dst.Frequencies("A").Total())
}
