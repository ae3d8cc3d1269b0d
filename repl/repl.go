// Package repl runs the interactive chat loop.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	pal "github.com/Paranoid-AF/pal"
)

// Prompt is shown before each line of user input.
const Prompt = "You: "

// historyLines is how many exchanged lines are kept for the engine.
const historyLines = 10

const goodbye = "AI: Goodbye! 👋"

// Responder answers a line of user input.
type Responder interface {
	GenerateResponse(ctx context.Context, input string, history []string, opts pal.GenerateOptions) string
}

// REPL reads user lines, asks the engine for replies and prints them.
type REPL struct {
	engine  Responder
	in      LineReader
	out     io.Writer
	history []string
}

// New creates a loop reading from in and printing to out.
func New(engine Responder, in LineReader, out io.Writer) *REPL {
	return &REPL{engine: engine, in: in, out: out}
}

// Run prints the banner and loops until the user quits, input ends, Ctrl-C
// is pressed or ctx is cancelled. Only read failures are returned.
func (r *REPL) Run(ctx context.Context) error {
	slog.Info("starting interactive mode")
	fmt.Fprintln(r.out, "\n🤖 Personal AI Assistant")
	fmt.Fprintln(r.out, "Type 'quit' or 'exit' to end the session.")
	fmt.Fprintln(r.out)

	// Closing the reader unblocks a pending ReadLine on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.in.Close()
		case <-done:
		}
	}()

	for {
		if ctx.Err() != nil {
			fmt.Fprintln(r.out, "\n"+goodbye)
			return nil
		}

		line, err := r.in.ReadLine(Prompt)
		if ctx.Err() != nil || errors.Is(err, ErrInterrupt) || errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, "\n"+goodbye)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if isQuit(input) {
			fmt.Fprintln(r.out, goodbye)
			return nil
		}
		if input == "" {
			continue
		}

		reply := r.engine.GenerateResponse(ctx, input, r.History(), pal.GenerateOptions{})
		fmt.Fprintf(r.out, "AI: %s\n", reply)
		r.remember("user: "+input, "assistant: "+reply)
	}
}

func isQuit(input string) bool {
	switch strings.ToLower(input) {
	case "quit", "exit", "bye":
		return true
	}
	return false
}

// History returns a copy of the remembered lines, oldest first.
func (r *REPL) History() []string {
	return append([]string(nil), r.history...)
}

func (r *REPL) remember(lines ...string) {
	r.history = append(r.history, lines...)
	if len(r.history) > historyLines {
		r.history = append([]string(nil), r.history[len(r.history)-historyLines:]...)
	}
}
