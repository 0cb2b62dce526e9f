// Package brand resolves external brand sustainability ratings.
package brand

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// DefaultSource is the rating source used when a vertical names none.
const DefaultSource = "default"

// ErrUnknownBrand is returned when a source has no rating for a brand.
var ErrUnknownBrand = errors.New("unknown brand")

// RatingSource resolves the sustainability rating of a brand from a named source.
type RatingSource interface {
	Rating(ctx context.Context, source, brand string) (float64, error)
}

// Key normalizes a brand name for lookups: trimmed and lower-cased.
func Key(brand string) string {
	return strings.ToLower(strings.TrimSpace(brand))
}

func sourceOrDefault(source string) string {
	if source == "" {
		return DefaultSource
	}
	return source
}

// InMemorySource is a RatingSource backed by a map. Safe for concurrent use.
type InMemorySource struct {
	mu      sync.RWMutex
	ratings map[string]map[string]float64 // source -> brand key -> rating
}

// NewInMemorySource creates an empty in-memory rating source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		ratings: make(map[string]map[string]float64),
	}
}

// Set stores the rating of brand in source.
func (s *InMemorySource) Set(source, brand string, rating float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source = sourceOrDefault(source)
	if s.ratings[source] == nil {
		s.ratings[source] = make(map[string]float64)
	}
	s.ratings[source][Key(brand)] = rating
}

// Rating implements RatingSource.
func (s *InMemorySource) Rating(ctx context.Context, source, brand string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rating, ok := s.ratings[sourceOrDefault(source)][Key(brand)]
	if !ok || Key(brand) == "" {
		return 0, ErrUnknownBrand
	}
	return rating, nil
}
