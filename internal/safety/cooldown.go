package safety

import (
	"sync"
	"time"
)

// Cooldowns blocks new entries on a symbol after a position closes.
// Expired entries are evicted when read.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewCooldowns(now func() time.Time) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{until: make(map[string]time.Time), now: now}
}

// Set blocks symbol for d from now.
func (c *Cooldowns) Set(symbol string, d time.Duration) time.Time {
	end := c.now().Add(d)
	c.mu.Lock()
	c.until[symbol] = end
	c.mu.Unlock()
	return end
}

// Remaining is zero when symbol is free.
func (c *Cooldowns) Remaining(symbol string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	end, ok := c.until[symbol]
	if !ok {
		return 0
	}
	left := end.Sub(c.now())
	if left <= 0 {
		delete(c.until, symbol)
		return 0
	}
	return left
}

// Active reports whether symbol is still cooling down.
func (c *Cooldowns) Active(symbol string) bool {
	return c.Remaining(symbol) > 0
}

// Snapshot returns the live cooldowns.
func (c *Cooldowns) Snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[string]time.Time, len(c.until))
	for sym, end := range c.until {
		if !end.After(now) {
			delete(c.until, sym)
			continue
		}
		out[sym] = end
	}
	return out
}
