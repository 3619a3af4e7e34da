package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock for tests that moves forward by a
// fixed step on every reading.
//
// Every Now() call returns a strictly later instant. Stamps keep
// microseconds, so a millisecond step still tells successive writes apart.
// Reset rewinds it for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	step time.Duration
	now  time.Time
}

// NewDeterministicClock creates a clock at Epoch advancing one second per
// reading.
//
// The first call to Now() returns Epoch plus one second.
func NewDeterministicClock() *DeterministicClock {
	return NewSteppedClock(time.Second)
}

// NewSteppedClock creates a clock at Epoch advancing step per reading.
func NewSteppedClock(step time.Duration) *DeterministicClock {
	return &DeterministicClock{step: step, now: Epoch}
}

// Now advances the clock and returns the new instant.
//
// Monotonic: never returns the same instant twice.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Current returns the last instant without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without a reading, to jump past
// staleness horizons.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset rewinds the clock to Epoch.
//
// After Reset(), the next call to Now() returns Epoch plus one step.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
