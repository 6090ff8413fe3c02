package mutex

import (
	"context"
	"distbank/internal/lamport"
	"errors"
)

// Pid is a unique identifier for a process participating in the mutex algorithm.
type Pid = lamport.Pid
type timestamp = lamport.Timestamp

var (
	// ErrNotHeld is returned by operations reserved to the lock holder.
	ErrNotHeld = errors.New("mutex: not held")
	// ErrAcquireAborted is returned when an acquisition is abandoned before the lock is granted.
	ErrAcquireAborted = errors.New("mutex: acquire aborted")
	// ErrClosed is returned by Acquire once the mutex has been closed.
	ErrClosed = errors.New("mutex: closed")
)

// State is the local request state of a process.
type State int

const (
	// Idle means the process neither holds nor wants the lock.
	Idle State = iota
	// Requesting means the process broadcast a request and is collecting replies.
	Requesting
	// Held means the process is in its critical section.
	Held
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Requesting:
		return "REQUESTING"
	case Held:
		return "HELD"
	default:
		return "INVALID"
	}
}

/*
Mutex is the interface for a distributed mutex guarding a shared value.
*/
type Mutex interface {
	/*
		Acquire blocks until the calling process holds the mutex.

		If ctx ends first, the attempt is abandoned and an error wrapping both [ErrAcquireAborted] and ctx.Err() is returned. Concurrent callers within the same process are served one after the other.
	*/
	Acquire(ctx context.Context) error
	// Release leaves the critical section, publishing the shared value to all peers. Does not wait for the network.
	Release()
	// Value returns the local copy of the shared value.
	Value() uint32
	// SetValue changes the shared value. Only allowed while the mutex is held.
	SetValue(v uint32) error
	// State returns the local request state.
	State() State
	// Close stops the mutex. Pending acquisitions fail with [ErrClosed].
	Close()
}
