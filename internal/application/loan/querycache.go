package loan

import (
	gosync "sync"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/domain/loan"
)

// QueryCache memoizes the two views the counter UI polls constantly: the
// available items per category and the active loans. Entries are patched
// optimistically while a remote call is in flight and invalidated once it
// settles, so the next read refetches the real state either way.
type QueryCache struct {
	mu        gosync.Mutex
	available map[equipment.Category][]equipment.Item
	active    []loan.ActiveLoan
	hasActive bool
}

// NewQueryCache creates an empty query cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{available: map[equipment.Category][]equipment.Item{}}
}

// Available returns the cached available view for a category.
func (c *QueryCache) Available(cat equipment.Category) ([]equipment.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.available[cat]
	return items, ok
}

// SetAvailable stores the available view for a category.
func (c *QueryCache) SetAvailable(cat equipment.Category, items []equipment.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[cat] = items
}

// Active returns the cached active-loans view.
func (c *QueryCache) Active() ([]loan.ActiveLoan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.hasActive
}

// SetActive stores the active-loans view.
func (c *QueryCache) SetActive(loans []loan.ActiveLoan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = loans
	c.hasActive = true
}

// InvalidateAvailable drops the available view of one category.
func (c *QueryCache) InvalidateAvailable(cat equipment.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.available, cat)
}

// InvalidateActive drops the active-loans view.
func (c *QueryCache) InvalidateActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.hasActive = false
}

// InvalidateAll drops every cached view.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = map[equipment.Category][]equipment.Item{}
	c.active = nil
	c.hasActive = false
}

// snapshot captures a deep copy of the whole cache for optimistic rollback.
type snapshot struct {
	available map[equipment.Category][]equipment.Item
	active    []loan.ActiveLoan
	hasActive bool
}

// Snapshot returns a copy of the current cache content.
func (c *QueryCache) Snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := snapshot{
		available: make(map[equipment.Category][]equipment.Item, len(c.available)),
		hasActive: c.hasActive,
	}
	for cat, items := range c.available {
		s.available[cat] = append([]equipment.Item(nil), items...)
	}
	s.active = append([]loan.ActiveLoan(nil), c.active...)
	return s
}

// Restore puts a snapshot back, undoing optimistic patches.
func (c *QueryCache) Restore(s snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = s.available
	c.active = s.active
	c.hasActive = s.hasActive
}
