// Package prompt asks the user questions.
//
// Every question can be answered with "go back" (Esc in the terminal UI,
// "back" in line mode), reported as ErrBack, and cancelled with Ctrl+C,
// reported as ErrInterrupted. Phases translate ErrBack into a navigation
// signal; the session loop handles ErrInterrupted.
package prompt

import (
	"context"
	"errors"
	"io"
	"os"

	"golang.org/x/term"
)

var (
	// ErrBack is returned when the user asks to return to the previous step.
	ErrBack = errors.New("user requested to go back")
	// ErrInterrupted is returned when the user cancels with Ctrl+C or input ends.
	ErrInterrupted = errors.New("interrupted by user")
)

// Prompter asks interactive questions.
type Prompter interface {
	// Select presents options and returns the chosen index.
	Select(ctx context.Context, question string, options []string) (int, error)
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, question string, def bool) (bool, error)
	// Input asks for a single line of text. An empty answer yields def.
	Input(ctx context.Context, question, def string) (string, error)
	// Secret asks for a single line of text without echoing it.
	Secret(ctx context.Context, question string) (string, error)
	// Multiline asks for free-form text spanning several lines.
	Multiline(ctx context.Context, question string) (string, error)
}

// New returns a terminal Prompter when both in and out are terminals and a
// line-oriented one otherwise (pipes, CI, tests).
func New(in io.Reader, out io.Writer) Prompter {
	if isTerminal(in) && isTerminal(out) {
		return NewTerminal(in, out)
	}
	return NewLine(in, out)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SelectValue is a convenience wrapper returning the chosen option text.
func SelectValue(ctx context.Context, p Prompter, question string, options []string) (string, error) {
	idx, err := p.Select(ctx, question, options)
	if err != nil {
		return "", err
	}
	return options[idx], nil
}
