package aggregation

import (
	"sort"

	"github.com/onnwee/ecoscore/internal/product"
)

// Rank orders the products holding a relative value for score name in
// ascending order and stores each one's RankInfo. Ties keep the input
// order. Scores rejected by include, or without a relative value, lose any
// previous ranking. It returns the number of ranked products.
func Rank(products []*product.Product, name string, include func(*product.Score) bool) int {
	type entry struct {
		id    string
		score *product.Score
	}

	entries := make([]entry, 0, len(products))
	for _, p := range products {
		s := p.Score(name)
		if s == nil {
			continue
		}
		if s.Relative == nil || (include != nil && !include(s)) {
			s.Ranking = nil
			continue
		}
		entries = append(entries, entry{id: p.ID, score: s})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score.Relative.Value < entries[j].score.Relative.Value
	})

	n := len(entries)
	if n == 0 {
		return 0
	}
	best := entries[n-1].id
	worst := entries[0].id

	for i, e := range entries {
		info := &product.RankInfo{
			Position:      i,
			GlobalCount:   n,
			GlobalBestID:  best,
			GlobalWorstID: worst,
		}
		if i < n-1 {
			better := entries[i+1].id
			info.GlobalBetterID = &better
		}
		e.score.Ranking = info
	}
	return n
}

// realScore admits only non-virtual scores with an absolute value.
func realScore(s *product.Score) bool {
	return !s.Virtual && s.Absolute != nil
}
