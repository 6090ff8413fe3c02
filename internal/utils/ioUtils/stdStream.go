package ioutils

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

type stdStream struct {
	in *bufio.Reader
}

// NewStdStream creates a new instance of an IOStream that pipes to the standard input/output.
func NewStdStream() IOStream {
	return stdStream{
		in: bufio.NewReader(os.Stdin),
	}
}

func (s stdStream) ReadLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err == nil {
		line = strings.TrimRight(line, "\r\n")
	}
	return line, err
}

func (s stdStream) Println(v ...interface{}) {
	s.Print(fmt.Sprint(v...), "\n")
}

func (stdStream) Print(v ...interface{}) {
	fmt.Print(v...)
}
