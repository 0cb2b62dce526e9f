package ranking

import (
	"sort"
	"time"

	"github.com/onnwee/ecoscore/internal/product"
)

// Entry is one ranked product of a snapshot.
type Entry struct {
	Rank      int     `json:"rank" cbor:"rank"`
	ProductID string  `json:"product_id" cbor:"product_id"`
	Brand     string  `json:"brand,omitempty" cbor:"brand,omitempty"`
	Value     float64 `json:"value" cbor:"value"`
	Absolute  float64 `json:"absolute" cbor:"absolute"`
	Virtual   bool    `json:"virtual,omitempty" cbor:"virtual,omitempty"`
}

// Snapshot is the ranking of one score over one vertical batch run.
type Snapshot struct {
	Vertical    string    `json:"vertical" cbor:"vertical"`
	Score       string    `json:"score" cbor:"score"`
	RunID       string    `json:"run_id" cbor:"run_id"`
	GeneratedAt time.Time `json:"generated_at" cbor:"generated_at"`
	Entries     []Entry   `json:"entries" cbor:"entries"`
}

// Build collects the products ranked on score, best first. Products whose
// score carries no ranking are left out.
func Build(vertical, score, runID string, products []*product.Product, at time.Time) Snapshot {
	type ranked struct {
		p *product.Product
		s *product.Score
	}
	rows := make([]ranked, 0, len(products))
	for _, p := range products {
		s := p.Score(score)
		if s == nil || s.Ranking == nil {
			continue
		}
		rows = append(rows, ranked{p: p, s: s})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].s.Ranking.Position > rows[j].s.Ranking.Position
	})

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{
			Rank:      i + 1,
			ProductID: r.p.ID,
			Brand:     r.p.Brand,
			Value:     r.s.Value,
			Absolute:  r.s.AbsoluteValue(),
			Virtual:   r.s.Virtual,
		}
	}

	return Snapshot{
		Vertical:    vertical,
		Score:       score,
		RunID:       runID,
		GeneratedAt: at.UTC(),
		Entries:     entries,
	}
}

// Top returns at most n entries from the top of the snapshot. A
// non-positive n returns every entry.
func (s Snapshot) Top(n int) []Entry {
	if n <= 0 || n >= len(s.Entries) {
		return s.Entries
	}
	return s.Entries[:n]
}

// Find returns the entry of a product.
func (s Snapshot) Find(productID string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.ProductID == productID {
			return e, true
		}
	}
	return Entry{}, false
}
