package ioutils

import (
	"fmt"
	"io"
)

// MockIOStream is an IOStream whose input is scripted and whose output is captured, useful for testing.
type MockIOStream interface {
	IOStream
	// Provide the next line of input that will be read by the stream.
	SimulateNextInputLine(string)
	// Make subsequent reads return io.EOF once scripted lines are consumed.
	SimulateEOF()
	// Retrieve the next chunk written to the stream, blocking until there is one.
	InterceptNextPrintln() string
	// Channel of written chunks, for tests that need a timeout.
	Written() <-chan string
}

type mockReader struct {
	nextReadLine    chan string
	nextWrittenLine chan string
}

// NewMockReader creates a [MockIOStream] with room for a thousand pending lines in each direction.
func NewMockReader() MockIOStream {
	return mockReader{
		nextReadLine:    make(chan string, 1000),
		nextWrittenLine: make(chan string, 1000),
	}
}

func (m mockReader) ReadLine() (string, error) {
	s, ok := <-m.nextReadLine
	if !ok {
		return "", io.EOF
	}
	return s, nil
}

func (m mockReader) Println(s ...interface{}) {
	m.Print(fmt.Sprint(s...), "\n")
}

func (m mockReader) Print(s ...interface{}) {
	m.nextWrittenLine <- fmt.Sprint(s...)
}

func (m mockReader) SimulateNextInputLine(s string) {
	m.nextReadLine <- s
}

func (m mockReader) SimulateEOF() {
	close(m.nextReadLine)
}

func (m mockReader) InterceptNextPrintln() string {
	return <-m.nextWrittenLine
}

func (m mockReader) Written() <-chan string {
	return m.nextWrittenLine
}
