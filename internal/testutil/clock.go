package testutil

import (
	"sync"
	"time"
)

// FrozenClock provides a thread-safe deterministic wall clock for tests.
//
// Each call to Now() returns the current instant and then advances it by a
// fixed step, so timestamps in recorded fixtures are strictly increasing
// and byte-identical across runs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FrozenClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
	base time.Time
}

// DefaultEpoch is the starting instant of a FrozenClock created with
// NewFrozenClock: 2024-01-01T00:00:00Z.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFrozenClock creates a clock starting at DefaultEpoch advancing one
// second per reading.
func NewFrozenClock() *FrozenClock {
	return NewFrozenClockAt(DefaultEpoch, time.Second)
}

// NewFrozenClockAt creates a clock starting at the given instant with the
// given per-reading step. A step of 0 freezes the clock completely.
func NewFrozenClockAt(start time.Time, step time.Duration) *FrozenClock {
	return &FrozenClock{t: start, step: step, base: start}
}

// Now returns the current instant and advances the clock by one step.
//
// The signature matches time.Now so the method can be passed anywhere a
// now-function is injected.
func (c *FrozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

// Peek returns the instant the next Now() will report, without advancing.
func (c *FrozenClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d without producing a reading.
func (c *FrozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Reset returns the clock to its starting instant.
//
// Used for test reuse. After Reset(), Now() repeats the original sequence.
func (c *FrozenClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.base
}
