// Package product defines the catalog entities scored by a batch run.
package product

import (
	"sort"

	"github.com/onnwee/ecoscore/internal/stats"
)

// Product is one catalog item of a vertical. Attributes carry the raw
// extracted values, Scores the named scores computed for it.
type Product struct {
	ID         string            `json:"id"`
	Vertical   string            `json:"vertical"`
	Brand      string            `json:"brand,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Scores     map[string]*Score `json:"scores,omitempty"`
}

// New creates a product with initialized maps.
func New(id, vertical string) *Product {
	return &Product{
		ID:         id,
		Vertical:   vertical,
		Attributes: make(map[string]string),
		Scores:     make(map[string]*Score),
	}
}

// Attribute returns the raw value of an attribute.
func (p *Product) Attribute(name string) (string, bool) {
	v, ok := p.Attributes[name]
	return v, ok
}

// Score returns the named score, or nil.
func (p *Product) Score(name string) *Score {
	if p.Scores == nil {
		return nil
	}
	return p.Scores[name]
}

// SetScore stores s under its name, replacing any previous score of that name.
func (p *Product) SetScore(s *Score) {
	if p.Scores == nil {
		p.Scores = make(map[string]*Score)
	}
	p.Scores[s.Name] = s
}

// RemoveScore deletes the named score.
func (p *Product) RemoveScore(name string) {
	delete(p.Scores, name)
}

// DropVirtual deletes every virtual score, leaving only scores backed by data.
func (p *Product) DropVirtual() {
	for name, s := range p.Scores {
		if s == nil || s.Virtual {
			delete(p.Scores, name)
		}
	}
}

// RealScoreCount returns the number of non-virtual scores, ignoring exclude.
func (p *Product) RealScoreCount(exclude string) int {
	n := 0
	for name, s := range p.Scores {
		if name == exclude || s == nil || s.Virtual {
			continue
		}
		n++
	}
	return n
}

// ScoreNames returns the names of the product's scores in ascending order.
func (p *Product) ScoreNames() []string {
	names := make([]string, 0, len(p.Scores))
	for name := range p.Scores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Score is a named score of a product. Value is the display value: the
// relative value once the batch has been relativized, the absolute value before.
type Score struct {
	Name       string             `json:"name"`
	Value      float64            `json:"value"`
	Absolute   *Measure           `json:"absolute,omitempty"`
	Relative   *Measure           `json:"relative,omitempty"`
	Virtual    bool               `json:"virtual,omitempty"`
	Aggregates map[string]float64 `json:"aggregates,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	Ranking    *RankInfo          `json:"ranking,omitempty"`
}

// NewScore creates a score carrying an absolute value.
func NewScore(name string, value float64) *Score {
	return &Score{
		Name:     name,
		Value:    value,
		Absolute: &Measure{Value: value},
	}
}

// AbsoluteValue returns the absolute value, falling back to Value.
func (s *Score) AbsoluteValue() float64 {
	if s.Absolute != nil {
		return s.Absolute.Value
	}
	return s.Value
}

// SetMetadata records a metadata entry on the score.
func (s *Score) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}

// Measure is one score value placed within its batch distribution.
type Measure struct {
	Value        float64 `json:"value"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Avg          float64 `json:"avg"`
	Count        int64   `json:"count"`
	Sum          float64 `json:"sum"`
	SumOfSquares float64 `json:"sum_of_squares"`
}

// WithStats returns a copy of m carrying the distribution of c.
func (m Measure) WithStats(c stats.Cardinality) Measure {
	m.Min = c.Min
	m.Max = c.Max
	m.Avg = c.Avg()
	m.Count = c.Count
	m.Sum = c.Sum
	m.SumOfSquares = c.SumOfSquares
	return m
}

// RankInfo is a product's position in the batch ordering of one score.
// Position 0 is the lowest value; GlobalBetterID is nil for the best product.
type RankInfo struct {
	Position       int     `json:"position"`
	GlobalCount    int     `json:"global_count"`
	GlobalBestID   string  `json:"global_best_id"`
	GlobalWorstID  string  `json:"global_worst_id"`
	GlobalBetterID *string `json:"global_better_id,omitempty"`
}

// IsBest reports whether the ranked product terminates the "next better" chain.
func (r RankInfo) IsBest() bool {
	return r.GlobalBetterID == nil
}
