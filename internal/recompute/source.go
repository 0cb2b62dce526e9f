package recompute

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/ecoscore/internal/product"
	"github.com/onnwee/ecoscore/internal/ranking"
)

// ProductSource loads the catalog of a vertical.
type ProductSource interface {
	// LoadProducts returns every product of a vertical with its attributes.
	// Previously stored scores may be attached; the run replaces them.
	LoadProducts(ctx context.Context, vertical string) ([]*product.Product, error)
}

// ChangeFeed is implemented by sources that can report which verticals
// changed since a point in time.
type ChangeFeed interface {
	ChangedVerticals(ctx context.Context, since time.Time) ([]string, error)
}

// ScoreStore persists the scores of a finished run.
type ScoreStore interface {
	// SaveScores replaces the stored scores of the products of a vertical.
	SaveScores(ctx context.Context, vertical, runID string, products []*product.Product) error
}

// RankingPublisher makes ranking snapshots available to readers.
type RankingPublisher interface {
	Publish(ctx context.Context, snap ranking.Snapshot) error
}

// InMemoryProductSource is an in-memory ProductSource and ChangeFeed.
type InMemoryProductSource struct {
	mu       sync.RWMutex
	products map[string][]*product.Product // vertical -> products
	changed  map[string]time.Time          // vertical -> last change
}

// NewInMemoryProductSource creates an empty source.
func NewInMemoryProductSource() *InMemoryProductSource {
	return &InMemoryProductSource{
		products: make(map[string][]*product.Product),
		changed:  make(map[string]time.Time),
	}
}

// Put replaces the catalog of a vertical.
func (s *InMemoryProductSource) Put(vertical string, products []*product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[vertical] = products
	s.changed[vertical] = time.Now()
}

// LoadProducts returns copies of the products of a vertical so runs never
// share score maps.
func (s *InMemoryProductSource) LoadProducts(ctx context.Context, vertical string) ([]*product.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.products[vertical]
	result := make([]*product.Product, len(stored))
	for i, p := range stored {
		c := product.New(p.ID, p.Vertical)
		c.Brand = p.Brand
		for k, v := range p.Attributes {
			c.Attributes[k] = v
		}
		result[i] = c
	}
	return result, nil
}

// ChangedVerticals returns the verticals put after since.
func (s *InMemoryProductSource) ChangedVerticals(ctx context.Context, since time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var verticals []string
	for v, at := range s.changed {
		if at.After(since) {
			verticals = append(verticals, v)
		}
	}
	return verticals, nil
}

// InMemoryScoreStore is an in-memory ScoreStore.
type InMemoryScoreStore struct {
	mu     sync.RWMutex
	runs   map[string]string                     // vertical -> run id
	scores map[string]map[string][]product.Score // vertical -> product id -> scores
}

// NewInMemoryScoreStore creates an empty store.
func NewInMemoryScoreStore() *InMemoryScoreStore {
	return &InMemoryScoreStore{
		runs:   make(map[string]string),
		scores: make(map[string]map[string][]product.Score),
	}
}

// SaveScores replaces the stored scores of a vertical.
func (s *InMemoryScoreStore) SaveScores(ctx context.Context, vertical, runID string, products []*product.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	byProduct := make(map[string][]product.Score, len(products))
	for _, p := range products {
		for _, name := range p.ScoreNames() {
			byProduct[p.ID] = append(byProduct[p.ID], *p.Score(name))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[vertical] = runID
	s.scores[vertical] = byProduct
	return nil
}

// Scores returns the stored scores of a product.
func (s *InMemoryScoreStore) Scores(vertical, productID string) []product.Score {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[vertical][productID]
}

// RunID returns the run that produced the stored scores of a vertical.
func (s *InMemoryScoreStore) RunID(vertical string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[vertical]
}

// InMemoryPublisher is an in-memory RankingPublisher.
type InMemoryPublisher struct {
	mu        sync.RWMutex
	snapshots map[string]ranking.Snapshot // vertical/score -> snapshot
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{snapshots: make(map[string]ranking.Snapshot)}
}

// Publish stores snap, replacing the previous snapshot of its score.
func (p *InMemoryPublisher) Publish(ctx context.Context, snap ranking.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[snap.Vertical+"/"+snap.Score] = snap
	return nil
}

// Snapshot returns the published snapshot of a score.
func (p *InMemoryPublisher) Snapshot(vertical, score string) (ranking.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.snapshots[vertical+"/"+score]
	return snap, ok
}

// SlowProductSource delays every load of the wrapped source. Loads give up
// when the context ends first.
type SlowProductSource struct {
	source ProductSource
	delay  time.Duration
}

// NewSlowProductSource wraps source with a delay.
func NewSlowProductSource(source ProductSource, delay time.Duration) *SlowProductSource {
	return &SlowProductSource{source: source, delay: delay}
}

// LoadProducts loads after the delay.
func (s *SlowProductSource) LoadProducts(ctx context.Context, vertical string) ([]*product.Product, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.source.LoadProducts(ctx, vertical)
}
