// Package state holds the in-memory view of exchange positions.
package state

import (
	"sort"
	"sync"
	"time"

	"execution-core/pkg/exchanges/common"
)

// PositionCache keeps the latest exchange positions. It is rebuilt
// wholesale from each poll so a closed position cannot survive a cycle.
type PositionCache struct {
	mu        sync.RWMutex
	positions map[string]common.Position
	updatedAt time.Time
}

func NewPositionCache() *PositionCache {
	return &PositionCache{positions: make(map[string]common.Position)}
}

// Replace swaps in the result of a position poll. Zero-size rows are dropped.
func (c *PositionCache) Replace(positions []common.Position, at time.Time) {
	next := make(map[string]common.Position, len(positions))
	for _, p := range positions {
		if p.Contracts <= 0 {
			continue
		}
		next[p.Symbol] = p
	}
	c.mu.Lock()
	c.positions = next
	c.updatedAt = at
	c.mu.Unlock()
}

// Remove drops symbol after a push event reports it flat.
func (c *PositionCache) Remove(symbol string) {
	c.mu.Lock()
	delete(c.positions, symbol)
	c.mu.Unlock()
}

// Position returns the cached position for symbol.
func (c *PositionCache) Position(symbol string) (common.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[symbol]
	return p, ok
}

// Has reports whether symbol has a live position.
func (c *PositionCache) Has(symbol string) bool {
	_, ok := c.Position(symbol)
	return ok
}

// Positions returns a copy of all positions ordered by symbol.
func (c *PositionCache) Positions() []common.Position {
	c.mu.RLock()
	res := make([]common.Position, 0, len(c.positions))
	for _, p := range c.positions {
		res = append(res, p)
	}
	c.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

// UpdatedAt is the time of the last Replace.
func (c *PositionCache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
