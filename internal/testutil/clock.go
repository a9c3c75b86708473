package testutil

import (
	"sync"
	"time"
)

// DefaultTestTime is the instant FixedClock and StepClock start at when
// given the zero time.
var DefaultTestTime = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

// FixedClock always reports the same instant.
//
// Implements engine.Clock. Safe for concurrent use.
type FixedClock struct {
	t time.Time
}

// NewFixedClock returns a clock frozen at t (DefaultTestTime when zero).
func NewFixedClock(t time.Time) FixedClock {
	if t.IsZero() {
		t = DefaultTestTime
	}
	return FixedClock{t: t.UTC()}
}

// Now returns the frozen instant.
func (c FixedClock) Now() time.Time { return c.t }

// StepClock advances by a fixed step on every call to Now.
//
// Unlike FixedClock, StepClock yields strictly increasing instants, which
// keeps ledger ordering deterministic in tests that commit several resources.
// It can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewStepClock creates a clock whose first Now() returns start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if start.IsZero() {
		start = DefaultTestTime
	}
	if step <= 0 {
		step = time.Second
	}
	return &StepClock{start: start.UTC(), step: step}
}

// Now returns the next instant.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to its start.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
