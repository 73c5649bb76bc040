package testutil

import (
	"sync"
	"time"
)

// StepClock is a deterministic wall clock for tests.
//
// Each call to Now returns the base time advanced by step times the number
// of previous calls. A zero step gives a frozen clock, which makes elapsed
// durations such as query_time_ms always 0 in golden transcripts.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	calls int64
}

// NewStepClock creates a clock starting at base that advances by step on
// every call to Now.
func NewStepClock(base time.Time, step time.Duration) *StepClock {
	return &StepClock{base: base, step: step}
}

// NewFrozenClock creates a clock that always returns base.
func NewFrozenClock(base time.Time) *StepClock {
	return NewStepClock(base, 0)
}

// Now returns the current time and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to its base time.
//
// Used for test reuse. After Reset(), the next call to Now() returns base.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
