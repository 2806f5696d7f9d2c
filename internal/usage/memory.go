package usage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCounterClosed is returned by a closed MemoryCounter
var ErrCounterClosed = errors.New("usage counter is closed")

type counterKey struct {
	caller string
	day    string
}

// MemoryCounter keeps counters in process memory. Entries for past days are
// swept periodically.
type MemoryCounter struct {
	counts    map[counterKey]int
	lock      sync.RWMutex
	now       func() time.Time
	closeChan chan struct{}
	closed    bool
}

// NewMemoryCounter creates a counter sweeping stale days every interval.
// A non-positive interval disables the sweeper.
func NewMemoryCounter(interval time.Duration) *MemoryCounter {
	c := &MemoryCounter{
		counts:    make(map[counterKey]int),
		now:       time.Now,
		closeChan: make(chan struct{}),
	}

	if interval > 0 {
		go c.cleanupRoutine(interval)
	}

	return c
}

// Count returns the number of extractions recorded for caller on day
func (c *MemoryCounter) Count(ctx context.Context, caller, day string) (int, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.closed {
		return 0, ErrCounterClosed
	}
	return c.counts[counterKey{caller: caller, day: day}], nil
}

// IncrementIfBelow records one extraction unless caller already has limit
// extractions on day
func (c *MemoryCounter) IncrementIfBelow(ctx context.Context, caller, day string, limit int) (int, bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return 0, false, ErrCounterClosed
	}

	key := counterKey{caller: caller, day: day}
	n := c.counts[key]
	if limit > 0 && n >= limit {
		return n, false, nil
	}
	c.counts[key] = n + 1
	return n + 1, true, nil
}

// Decrement takes back one recorded extraction
func (c *MemoryCounter) Decrement(ctx context.Context, caller, day string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return ErrCounterClosed
	}

	key := counterKey{caller: caller, day: day}
	if c.counts[key] > 1 {
		c.counts[key]--
	} else {
		delete(c.counts, key)
	}
	return nil
}

// Len returns the number of live entries
func (c *MemoryCounter) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.counts)
}

// Close stops the sweeper
func (c *MemoryCounter) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.closed {
		c.closed = true
		close(c.closeChan)
	}
}

// cleanupRoutine periodically removes past days
func (c *MemoryCounter) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.closeChan:
			return
		}
	}
}

// sweep drops every entry older than the current day
func (c *MemoryCounter) sweep() int {
	today := Day(c.now())

	c.lock.Lock()
	defer c.lock.Unlock()

	removed := 0
	for key := range c.counts {
		// Day keys sort chronologically
		if key.day < today {
			delete(c.counts, key)
			removed++
		}
	}
	return removed
}
