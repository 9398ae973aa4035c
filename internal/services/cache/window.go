package cache

import (
	"context"
	"sync"
	"time"
)

// Window is the state of one fixed rate-limit window.
type Window struct {
	Count   int64
	ResetAt time.Time
}

// WindowCounter is the counter view of the backend. Incr must be atomic: two
// concurrent calls for the same key never observe the same count.
type WindowCounter interface {
	// Incr adds one to key, starting a window of the given length when none is live.
	Incr(ctx context.Context, key string, window time.Duration) (Window, error)
	// Peek reads the live window without modifying it.
	Peek(ctx context.Context, key string) (Window, bool, error)
}

// windowSweepInterval bounds how often Incr scans for expired windows.
const windowSweepInterval = time.Minute

// MemoryWindowCounter keeps windows in process memory. Expired windows are
// swept when a new window starts, at most once per windowSweepInterval, and
// by Purge.
type MemoryWindowCounter struct {
	mu        sync.Mutex
	windows   map[string]*Window
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryWindowCounter() *MemoryWindowCounter {
	return &MemoryWindowCounter{
		windows: make(map[string]*Window),
		now:     time.Now,
	}
}

// WithClock replaces the counter clock. Intended for tests.
func (c *MemoryWindowCounter) WithClock(now func() time.Time) *MemoryWindowCounter {
	c.now = now
	return c
}

func (c *MemoryWindowCounter) Incr(_ context.Context, key string, window time.Duration) (Window, error) {
	key = RateLimitNamespace + key
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		if !now.Before(c.nextSweep) {
			c.sweep(now)
			c.nextSweep = now.Add(windowSweepInterval)
		}
		w = &Window{Count: 0, ResetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.Count++
	return *w, nil
}

// sweep must be called with mu held.
func (c *MemoryWindowCounter) sweep(now time.Time) int {
	removed := 0
	for key, w := range c.windows {
		if !now.Before(w.ResetAt) {
			delete(c.windows, key)
			removed++
		}
	}
	return removed
}

// Purge removes expired windows and returns how many were dropped.
func (c *MemoryWindowCounter) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep(now)
}

func (c *MemoryWindowCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

func (c *MemoryWindowCounter) Peek(_ context.Context, key string) (Window, bool, error) {
	key = RateLimitNamespace + key
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok {
		return Window{}, false, nil
	}
	if !now.Before(w.ResetAt) {
		delete(c.windows, key)
		return Window{}, false, nil
	}
	return *w, true, nil
}
