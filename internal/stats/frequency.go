package stats

import "sort"

// FrequencyTable counts occurrences of each distinct value of a score.
// It is only built for scores whose normalization needs rank or quantile
// information.
type FrequencyTable map[float64]int64

// Add records one occurrence of value.
func (f FrequencyTable) Add(value float64) {
	f[value]++
}

// Merge adds every count of other into f.
func (f FrequencyTable) Merge(other FrequencyTable) {
	for v, n := range other {
		f[v] += n
	}
}

// Total returns the number of recorded occurrences.
func (f FrequencyTable) Total() int64 {
	var total int64
	for _, n := range f {
		total += n
	}
	return total
}

// Distinct returns the number of distinct values.
func (f FrequencyTable) Distinct() int {
	return len(f)
}

// CountBelow returns the number of occurrences strictly lower than value.
func (f FrequencyTable) CountBelow(value float64) int64 {
	var below int64
	for v, n := range f {
		if v < value {
			below += n
		}
	}
	return below
}

// CountAt returns the number of occurrences equal to value.
func (f FrequencyTable) CountAt(value float64) int64 {
	return f[value]
}

// SortedValues returns the distinct values in ascending order.
func (f FrequencyTable) SortedValues() []float64 {
	values := make([]float64, 0, len(f))
	for v := range f {
		values = append(values, v)
	}
	sort.Float64s(values)
	return values
}

// At returns the element at index i of the table expanded into an ascending
// sample of Total() values. ok is false when i is out of range.
// Repeated lookups should go through Distribution.
func (f FrequencyTable) At(i int64) (value float64, ok bool) {
	return f.Distribution().At(i)
}

// Distribution sorts the table once for repeated rank and quantile lookups.
func (f FrequencyTable) Distribution() *Distribution {
	d := &Distribution{
		values: f.SortedValues(),
	}
	d.cumulative = make([]int64, len(d.values))
	var seen int64
	for i, v := range d.values {
		seen += f[v]
		d.cumulative[i] = seen
	}
	return d
}

// Distribution is a frequency table in ascending value order with
// cumulative counts. Lookups are binary searches.
type Distribution struct {
	values     []float64
	cumulative []int64
}

// Total returns the number of recorded occurrences.
func (d *Distribution) Total() int64 {
	if len(d.cumulative) == 0 {
		return 0
	}
	return d.cumulative[len(d.cumulative)-1]
}

// Distinct returns the number of distinct values.
func (d *Distribution) Distinct() int {
	return len(d.values)
}

// CountBelow returns the number of occurrences strictly lower than value.
func (d *Distribution) CountBelow(value float64) int64 {
	i := sort.SearchFloat64s(d.values, value)
	if i == 0 {
		return 0
	}
	return d.cumulative[i-1]
}

// CountAt returns the number of occurrences equal to value.
func (d *Distribution) CountAt(value float64) int64 {
	i := sort.SearchFloat64s(d.values, value)
	if i == len(d.values) || d.values[i] != value {
		return 0
	}
	if i == 0 {
		return d.cumulative[0]
	}
	return d.cumulative[i] - d.cumulative[i-1]
}

// At returns the element at index i of the expanded ascending sample.
func (d *Distribution) At(i int64) (value float64, ok bool) {
	if i < 0 || i >= d.Total() {
		return 0, false
	}
	j := sort.Search(len(d.cumulative), func(j int) bool { return d.cumulative[j] > i })
	return d.values[j], true
}

// Clone returns an independent copy of f.
func (f FrequencyTable) Clone() FrequencyTable {
	out := make(FrequencyTable, len(f))
	for v, n := range f {
		out[v] = n
	}
	return out
}
