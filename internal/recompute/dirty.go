package recompute

import (
	"sort"
	"sync"
	"time"
)

// DirtyTracker tracks which verticals have pending product changes that
// require a batch recompute. Safe for concurrent use.
type DirtyTracker struct {
	mu         sync.RWMutex
	dirtyFlags map[string]time.Time // vertical -> time marked dirty
}

// NewDirtyTracker creates an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		dirtyFlags: make(map[string]time.Time),
	}
}

// MarkDirty marks verticals as needing a recompute.
func (t *DirtyTracker) MarkDirty(verticals ...string) {
	now := time.Now()
	t.mu.Lock()
	for _, v := range verticals {
		t.dirtyFlags[v] = now
	}
	t.mu.Unlock()
}

// ClearDirty removes the dirty flag of a vertical.
func (t *DirtyTracker) ClearDirty(vertical string) {
	t.mu.Lock()
	delete(t.dirtyFlags, vertical)
	t.mu.Unlock()
}

// ClearDirtyBefore removes the dirty flag of a vertical unless it was set
// again after since. A vertical marked while its recompute was running
// stays dirty for the next cycle.
func (t *DirtyTracker) ClearDirtyBefore(vertical string, since time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	marked, ok := t.dirtyFlags[vertical]
	if !ok || marked.After(since) {
		return false
	}
	delete(t.dirtyFlags, vertical)
	return true
}

// DirtyVerticals returns the dirty verticals in ascending order.
func (t *DirtyTracker) DirtyVerticals() []string {
	t.mu.RLock()
	verticals := make([]string, 0, len(t.dirtyFlags))
	for v := range t.dirtyFlags {
		verticals = append(verticals, v)
	}
	t.mu.RUnlock()
	sort.Strings(verticals)
	return verticals
}

// IsDirty reports whether a vertical is marked dirty.
func (t *DirtyTracker) IsDirty(vertical string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.dirtyFlags[vertical]
	return exists
}

// DirtyCount returns the number of dirty verticals.
func (t *DirtyTracker) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirtyFlags)
}
