package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock for tests that advances by a fixed
// step on every reading, so timestamps are reproducible and strictly
// increasing.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewDeterministicClock creates a clock at Epoch advancing one second per
// reading.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{start: Epoch, step: time.Second}
}

// Now returns the next instant. The first call returns the start time.
// Its signature matches time.Now so it can be injected directly.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Current returns the instant the next Now call will report, without
// advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.n) * c.step)
}

// Advance moves the clock forward by d without counting as a reading.
// Tests use it to expire TTL-bound state.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.start.Add(d)
}

// Reset returns the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = Epoch
	c.n = 0
}
