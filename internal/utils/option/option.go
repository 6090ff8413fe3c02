// Package option models values that may be absent, such as the destination of a message that goes to every peer.
package option

import "fmt"

// Option holds either a value or nothing. The zero Option holds nothing.
//
// Options of comparable types are comparable with ==.
type Option[T any] struct {
	value T
	set   bool
}

// Some wraps value.
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, set: true}
}

// None returns an empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsNone reports whether the Option is empty.
func (o Option[T]) IsNone() bool {
	return !o.set
}

// Get returns the value and whether there is one.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Option[T]) String() string {
	if !o.set {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.value)
}
