// Package clock provides the time source used by the rate limiter, circuit
// breaker and token validation cache. Production code uses System; tests drive
// a Manual clock so refill and recovery math can be checked without sleeping.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock reports the current time
type Clock interface {
	Now() time.Time
}

// System is the wall clock
type System struct{}

// NewSystem returns the wall clock
func NewSystem() System {
	return System{}
}

// Now returns time.Now()
func (System) Now() time.Time {
	return time.Now()
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are rejected.
func (c *Manual) Advance(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("advance must be >= 0, got: %s", d)
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// Set jumps to an absolute time, possibly backwards
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
