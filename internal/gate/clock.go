package gate

import "sync/atomic"

// Clock is the monotonic logical clock for ledger ordering.
//
// Every change record is stamped with a strictly increasing seq number from
// this clock, so replay produces identical order regardless of wall-clock
// jitter between runs.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the single-writer service loop means one goroutine typically calls
// Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used on startup to resume from the ledger's highest seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
