package ecs

import "sync/atomic"

// Clock is a monotonic logical counter.
//
// All ordering in the runtime uses these numbers (tick numbers, patch
// sequence numbers), never wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next increments the clock and returns the new value.
// The first call returns 1.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the current value without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
