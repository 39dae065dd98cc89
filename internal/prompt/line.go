package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// backWords are answers treated as "go back" in line mode.
var backWords = map[string]bool{"back": true, "b": true, "<": true}

// Line is a Prompter reading answers line by line. It is used when stdin is
// not a terminal.
type Line struct {
	in  *bufio.Reader
	raw io.Reader
	out io.Writer
}

// NewLine creates a line-oriented Prompter.
func NewLine(in io.Reader, out io.Writer) *Line {
	return &Line{in: bufio.NewReader(in), raw: in, out: out}
}

func (l *Line) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrInterrupted
	}
	line, err := l.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", ErrInterrupted
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Select implements Prompter.
func (l *Line) Select(ctx context.Context, question string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("select %q: no options", question)
	}
	for {
		_, _ = fmt.Fprintf(l.out, "%s\n", question)
		for i, opt := range options {
			_, _ = fmt.Fprintf(l.out, "  %d) %s\n", i+1, opt)
		}
		_, _ = fmt.Fprintf(l.out, "Choice [1-%d, back]: ", len(options))

		answer, err := l.readLine(ctx)
		if err != nil {
			return 0, err
		}
		answer = strings.TrimSpace(answer)
		if backWords[strings.ToLower(answer)] {
			return 0, ErrBack
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		for i, opt := range options {
			if strings.EqualFold(answer, opt) {
				return i, nil
			}
		}
		_, _ = fmt.Fprintf(l.out, "Invalid choice %q\n", answer)
	}
}

// Confirm implements Prompter.
func (l *Line) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		_, _ = fmt.Fprintf(l.out, "%s [%s]: ", question, hint)
		answer, err := l.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "back", "b", "<":
			return false, ErrBack
		}
		_, _ = fmt.Fprintln(l.out, "Please answer y or n")
	}
}

// Input implements Prompter.
func (l *Line) Input(ctx context.Context, question, def string) (string, error) {
	if def != "" {
		_, _ = fmt.Fprintf(l.out, "%s [%s]: ", question, def)
	} else {
		_, _ = fmt.Fprintf(l.out, "%s: ", question)
	}
	answer, err := l.readLine(ctx)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if backWords[strings.ToLower(answer)] {
		return "", ErrBack
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Secret implements Prompter. Echo is disabled when the input is a terminal.
func (l *Line) Secret(ctx context.Context, question string) (string, error) {
	_, _ = fmt.Fprintf(l.out, "%s (hidden): ", question)
	if f, ok := l.raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(l.out)
		if err != nil {
			return "", ErrInterrupted
		}
		return strings.TrimSpace(string(b)), nil
	}
	answer, err := l.readLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// Multiline implements Prompter. Input ends with a line containing a single
// "." or at end of input. A lone "back" as the first line goes back.
func (l *Line) Multiline(ctx context.Context, question string) (string, error) {
	_, _ = fmt.Fprintf(l.out, "%s (finish with a line containing only \".\")\n", question)
	var lines []string
	for {
		line, err := l.readLine(ctx)
		if err != nil {
			if len(lines) > 0 {
				break
			}
			return "", err
		}
		if line == "." {
			break
		}
		if len(lines) == 0 && backWords[strings.ToLower(strings.TrimSpace(line))] {
			return "", ErrBack
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
