package logging

import (
	"os"
	"sync"
)

// LogFile is a file sink written asynchronously by a single goroutine, so that logging never blocks the protocol on disk I/O.
type LogFile struct {
	channel   chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogFile truncates or creates the file at path and starts its writer goroutine.
func NewLogFile(path string) (*LogFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	lf := LogFile{
		channel: make(chan string, 100),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(lf.done)
		defer file.Close()
		for s := range lf.channel {
			file.WriteString(s)
		}
	}()

	return &lf, nil
}

// Print queues a line for writing.
func (lf *LogFile) Print(s string) {
	lf.channel <- s
}

// Close flushes pending lines and closes the underlying file. Printing after Close panics.
func (lf *LogFile) Close() {
	lf.closeOnce.Do(func() {
		close(lf.channel)
		<-lf.done
	})
}
