package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio reads from in and writes to out
type Stdio struct {
	in       *bufio.Reader
	out      io.Writer
	terminal bool
}

// NewStdio returns IO bound to the process stdin and stdout
func NewStdio() IO {
	return &Stdio{
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		terminal: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// New returns IO over arbitrary streams; it never reports a terminal
func New(in io.Reader, out io.Writer) IO {
	return &Stdio{in: bufio.NewReader(in), out: out}
}

func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *Stdio) IsTerminal() bool {
	return s.terminal
}

// ReadInput печатает prompt и читает одну строку
func (s *Stdio) ReadInput(prompt string) (string, error) {
	s.Printf("%s", prompt)
	input, err := s.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
