package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ErrInterrupt is returned by ReadLine when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupt")

// LineReader reads one line of input after showing a prompt.
// It returns io.EOF at end of input and ErrInterrupt on Ctrl-C.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// NewLineReader returns a readline editor when in is a terminal, and a
// plain line scanner otherwise (pipes, files, tests).
func NewLineReader(in *os.File, out io.Writer) (LineReader, error) {
	if term.IsTerminal(int(in.Fd())) {
		return newEditor(in, out)
	}
	return NewScanner(in, out), nil
}

// editor wraps a readline instance.
type editor struct {
	rl *readline.Instance
}

func newEditor(in *os.File, out io.Writer) (*editor, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            Prompt,
		InterruptPrompt:   "^C",
		HistoryLimit:      100,
		HistorySearchFold: true,
		Stdin:             in,
		Stdout:            out,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &editor{rl: rl}, nil
}

func (e *editor) ReadLine(prompt string) (string, error) {
	e.rl.SetPrompt(prompt)
	line, err := e.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", ErrInterrupt
	}
	return line, err
}

func (e *editor) Close() error {
	return e.rl.Close()
}

// Scanner reads newline-separated input without line editing.
type Scanner struct {
	sc   *bufio.Scanner
	in   io.Reader
	out  io.Writer
	once sync.Once
}

// NewScanner reads lines from in and writes prompts to out.
func NewScanner(in io.Reader, out io.Writer) *Scanner {
	return &Scanner{sc: bufio.NewScanner(in), in: in, out: out}
}

func (s *Scanner) ReadLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// Close closes the underlying reader when it is an io.Closer, which
// unblocks a pending ReadLine on pipes and terminals.
func (s *Scanner) Close() error {
	var err error
	s.once.Do(func() {
		if c, ok := s.in.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
