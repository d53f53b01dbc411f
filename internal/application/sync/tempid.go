package sync

import (
	"sync"
	"time"
)

// TempIDGenerator hands out negative placeholder ids for records created
// while offline. Ids are based on the current unix millisecond so they stay
// unique across restarts, and strictly decrease within a process so two
// creates in the same millisecond never collide.
type TempIDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewTempIDGenerator creates a placeholder id generator.
func NewTempIDGenerator() *TempIDGenerator {
	return &TempIDGenerator{now: time.Now}
}

// Next returns the next placeholder id. Always negative.
func (g *TempIDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := -g.now().UnixMilli()
	if id >= g.last {
		id = g.last - 1
	}
	g.last = id
	return id
}
