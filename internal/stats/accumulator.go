package stats

import "sort"

// Accumulator holds one Cardinality per score name and, for names that
// request it, one FrequencyTable. It is not safe for concurrent use;
// parallel workers fill their own Accumulator and Merge them afterwards.
type Accumulator struct {
	cardinalities map[string]*Cardinality
	frequencies   map[string]FrequencyTable
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		cardinalities: make(map[string]*Cardinality),
		frequencies:   make(map[string]FrequencyTable),
	}
}

// Increment records value for name. When trackFrequency is set the value is
// also counted in the name's FrequencyTable.
func (a *Accumulator) Increment(name string, value float64, trackFrequency bool) {
	c, ok := a.cardinalities[name]
	if !ok {
		c = &Cardinality{}
		a.cardinalities[name] = c
	}
	c.Increment(value)

	if trackFrequency {
		f, ok := a.frequencies[name]
		if !ok {
			f = make(FrequencyTable)
			a.frequencies[name] = f
		}
		f.Add(value)
	}
}

// Cardinality returns a copy of the statistics for name.
func (a *Accumulator) Cardinality(name string) (Cardinality, bool) {
	c, ok := a.cardinalities[name]
	if !ok {
		return Cardinality{}, false
	}
	return *c, true
}

// Frequencies returns the frequency table for name, or nil when none was
// tracked. The returned table must be treated as read-only.
func (a *Accumulator) Frequencies(name string) FrequencyTable {
	return a.frequencies[name]
}

// Names returns the accumulated score names in ascending order.
func (a *Accumulator) Names() []string {
	names := make([]string, 0, len(a.cardinalities))
	for name := range a.cardinalities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge folds every cardinality and frequency table of other into a.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	for name, c := range other.cardinalities {
		dst, ok := a.cardinalities[name]
		if !ok {
			dst = &Cardinality{}
			a.cardinalities[name] = dst
		}
		dst.Merge(*c)
	}
	for name, f := range other.frequencies {
		dst, ok := a.frequencies[name]
		if !ok {
			a.frequencies[name] = f.Clone()
			continue
		}
		dst.Merge(f)
	}
}

// Snapshot returns a copy of every cardinality keyed by score name.
func (a *Accumulator) Snapshot() map[string]Cardinality {
	out := make(map[string]Cardinality, len(a.cardinalities))
	for name, c := range a.cardinalities {
		out[name] = *c
	}
	return out
}
