package ioutils

// IOStream abstracts the terminal the bank demo talks to, so that tests can drive it.
type IOStream interface {
	// Returns the next line of input from the stream, without its trailing newline.
	ReadLine() (string, error)
	// Prints the given values followed by a newline. Items are not space-separated.
	Println(...interface{})
	// Prints the given values. Items are not space-separated.
	Print(...interface{})
}
