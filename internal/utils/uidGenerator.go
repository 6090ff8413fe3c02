package utils

// UID is a process-local unique identifier.
type UID uint32

// UIDGenerator yields 0, 1, 2, ... to whoever reads it.
type UIDGenerator <-chan UID

// NewUIDGenerator creates a new UID generator. Note that it spawns a goroutine that lives as long as the process.
func NewUIDGenerator() UIDGenerator {
	c := make(chan UID)
	go func() {
		var i UID
		for {
			c <- i
			i++
		}
	}()
	return c
}
