package pipeline

import "sync/atomic"

// Sequencer hands out logical timestamps.
// Implemented by Clock and testutil.DeterministicClock.
type Sequencer interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock for mutation ordering.
//
// Every applied mutation is stamped with a strictly increasing seq, so
// ordering never depends on wall time and replay sees the same order.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume after the last logged seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to at least seq. Used by replay so
// mutations applied after it continue from the logged position.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
