// Package resource holds each process's copy of the shared account balance.
package resource

import (
	"distbank/internal/lamport"
	"sync"
)

// Update is a value written by a lock holder, stamped with the Lamport timestamp of its broadcast.
type Update struct {
	Value uint32
	Stamp lamport.Timestamp
}

// Replica is a process's copy of the shared value. Only the lock holder's copy is authoritative; every other copy is a cache refreshed by updates.
type Replica struct {
	mu    sync.RWMutex
	value uint32
	stamp lamport.Timestamp
}

// NewReplica creates a replica holding the initial value with a zero stamp, so that any update supersedes it.
func NewReplica(initial uint32) *Replica {
	return &Replica{value: initial}
}

// Value returns the current cached value.
func (r *Replica) Value() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Stamp returns the stamp of the update the current value came from.
func (r *Replica) Stamp() lamport.Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stamp
}

// Current returns the value together with its stamp.
func (r *Replica) Current() Update {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Update{Value: r.value, Stamp: r.stamp}
}

// Set overwrites the value locally. Only the lock holder calls it.
func (r *Replica) Set(value uint32) {
	r.mu.Lock()
	r.value = value
	r.mu.Unlock()
}

// Commit stamps the current value with the timestamp of its outgoing broadcast and returns the update to send.
func (r *Replica) Commit(stamp lamport.Timestamp) Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp = stamp
	return Update{Value: r.value, Stamp: stamp}
}

// Apply overwrites the cached value with u unless the replica already holds a later update. It reports whether u was applied.
func (r *Replica) Apply(u Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.Stamp.LessThan(r.stamp) {
		return false
	}
	r.value = u.Value
	r.stamp = u.Stamp
	return true
}
