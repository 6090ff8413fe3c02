package utils

// BufferedChan is a channel with an unbounded buffer: writes to the inlet never block for longer than it takes the pump goroutine to append them.
//
// Closing the inlet drains nothing: pending items are dropped and the outlet is closed.
type BufferedChan[T any] struct {
	inChan  chan T
	outChan chan T
}

// NewBufferedChan creates a new BufferedChan and starts its pump goroutine.
func NewBufferedChan[T any]() *BufferedChan[T] {
	c := BufferedChan[T]{
		inChan:  make(chan T),
		outChan: make(chan T),
	}
	go c.run()
	return &c
}

// Inlet returns the sending side.
func (b *BufferedChan[T]) Inlet() chan<- T {
	return b.inChan
}

// Outlet returns the receiving side.
func (b *BufferedChan[T]) Outlet() <-chan T {
	return b.outChan
}

// Close closes the inlet, which in turn stops the pump and closes the outlet.
func (b *BufferedChan[T]) Close() {
	close(b.inChan)
}

func (b *BufferedChan[T]) run() {
	defer close(b.outChan)

	var buffer []T
	for {
		// A nil channel never becomes ready, which disables the send case while the buffer is empty.
		var out chan T
		var head T
		if len(buffer) > 0 {
			out = b.outChan
			head = buffer[0]
		}

		select {
		case item, ok := <-b.inChan:
			if !ok {
				return
			}
			buffer = append(buffer, item)
		case out <- head:
			var zero T
			buffer[0] = zero
			buffer = buffer[1:]
		}
	}
}
