package lamport

import "sync/atomic"

// Time is a scalar Lamport timestamp.
type Time uint32

// Clock is a Lamport logical clock shared by the requester and listener paths of a process.
type Clock interface {
	// Now returns the current time without advancing it.
	Now() Time
	// Tick advances the clock for a local send event and returns the new time.
	Tick() Time
	// Observe merges a time carried by a received message: the clock becomes max(local, remote)+1, which is returned.
	Observe(remote Time) Time
}

type atomicClock struct {
	time atomic.Uint32
}

// NewClock creates a Clock starting at 0. It is safe for concurrent use.
func NewClock() Clock {
	return &atomicClock{}
}

func (c *atomicClock) Now() Time {
	return Time(c.time.Load())
}

func (c *atomicClock) Tick() Time {
	return Time(c.time.Add(1))
}

func (c *atomicClock) Observe(remote Time) Time {
	for {
		current := c.time.Load()
		next := max(current, uint32(remote)) + 1
		if c.time.CompareAndSwap(current, next) {
			return Time(next)
		}
	}
}
