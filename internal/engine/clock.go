package engine

import "sync/atomic"

// Clock hands out dispatch seq numbers. The zero value is ready to use and
// its first Next returns 1; the same order of dispatches always yields the
// same seqs.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first seq is 1.
func NewClock() *Clock {
	return new(Clock)
}

// ResumeClock returns a clock that continues after last, typically the
// highest seq already in the audit store.
func ResumeClock(last int64) *Clock {
	c := new(Clock)
	c.last.Store(last)
	return c
}

// Next stamps one dispatch.
func (c *Clock) Next() int64 { return c.last.Add(1) }

// Current is the last seq handed out, 0 before the first dispatch.
func (c *Clock) Current() int64 { return c.last.Load() }
