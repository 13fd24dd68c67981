package core

import (
	"sync"
	"time"
)

// Clock abstracts the time source so expiration logic is deterministic in
// tests. Production code injects RealClock; tests inject a FakeClock and
// advance it by hand.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *time.Ticker
}

// RealClock delegates to the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NewTicker returns a real ticker; sweep tests drive cycles directly
// rather than waiting on ticks.
func (c *FakeClock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}
