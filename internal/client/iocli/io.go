// Package iocli abstracts the terminal for the command line client.
package iocli

//go:generate moq -out io_mock.go . IO

// IO is where commands print and read confirmations
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	Write(p []byte) (n int, err error)
	// IsTerminal reports whether output goes to a terminal rather than a pipe
	IsTerminal() bool
}
