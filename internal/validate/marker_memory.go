package validate

import (
	"context"
	"sync"
	"time"

	"github.com/pricesense/crawler/internal/crawler"
)

// MemoryMarker is an in-process DuplicateMarker for tests and single-node
// runs.
type MemoryMarker struct {
	mu     sync.Mutex
	marks  map[string]time.Time
	window time.Duration
	clock  crawler.Clock
}

// NewMemoryMarker builds an empty marker.
func NewMemoryMarker(window time.Duration, clock crawler.Clock) *MemoryMarker {
	return &MemoryMarker{
		marks:  make(map[string]time.Time),
		window: window,
		clock:  clock,
	}
}

func (m *MemoryMarker) fresh(productID string) bool {
	at, ok := m.marks[productID]
	if !ok {
		return false
	}
	return m.clock.Now().Sub(at) < m.window
}

// IsRecentlyCrawled reports whether a mark within the window exists.
func (m *MemoryMarker) IsRecentlyCrawled(_ context.Context, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fresh(productID), nil
}

// MarkCrawled stamps the product.
func (m *MemoryMarker) MarkCrawled(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[productID] = m.clock.Now()
	return nil
}

// TryMark stamps the product unless a fresh mark exists.
func (m *MemoryMarker) TryMark(_ context.Context, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh(productID) {
		return false, nil
	}
	m.marks[productID] = m.clock.Now()
	return true, nil
}
