// Package display renders Klaus' terminal output: phase headers, result
// summaries, log excerpts, markdown documents and code diffs.
//
// A Display never reads input; interactive questions live in package prompt.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/term"

	"github.com/Iron-Ham/klaus/internal/util"
)

const (
	clearScreen = "\x1b[H\x1b[2J"

	defaultWidth = 100

	// DefaultPreviewLines is how many lines of a long artifact are shown inline.
	DefaultPreviewLines = 40
)

// Display writes formatted output to a terminal or any writer.
type Display struct {
	out     io.Writer
	tty     bool
	verbose bool
	width   int

	mu       sync.Mutex
	renderer *glamour.TermRenderer
}

// Option configures a Display.
type Option func(*Display)

// WithVerbose enables technical detail (stack traces, raw errors) in summaries.
func WithVerbose(v bool) Option {
	return func(d *Display) { d.verbose = v }
}

// WithWidth sets the wrap width for markdown and log boxes.
func WithWidth(w int) Option {
	return func(d *Display) {
		if w > 0 {
			d.width = w
		}
	}
}

// New creates a Display writing to out. Screen clearing and colour-aware
// markdown are only used when out is a terminal.
func New(out io.Writer, opts ...Option) *Display {
	d := &Display{out: out, width: defaultWidth}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		d.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			d.width = w - 2
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Verbose reports whether technical detail is shown.
func (d *Display) Verbose() bool { return d.verbose }

// Writer returns the underlying writer.
func (d *Display) Writer() io.Writer { return d.out }

func (d *Display) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(d.out, format, args...)
}

// Clear clears the terminal. It is a no-op when output is not a terminal so
// captured output stays readable.
func (d *Display) Clear() {
	if d.tty {
		d.printf("%s", clearScreen)
	}
}

// Header prints a framed title with an optional description line.
func (d *Display) Header(title, description string) {
	content := Title.Render(title)
	if description != "" {
		content += "\n" + Subtitle.Render(description)
	}
	d.printf("%s\n", Banner.Render(content))
}

// Success prints a success summary with the elapsed time.
func (d *Display) Success(message string, elapsed time.Duration) {
	d.printf("%s %s\n", SuccessMsg.Render("✓ "+message), Muted.Render("("+formatElapsed(elapsed)+")"))
}

// Failure prints a failure summary. detail is shown only in verbose mode.
func (d *Display) Failure(message string, elapsed time.Duration, detail string) {
	d.printf("%s %s\n", ErrorMsg.Render("✗ "+message), Muted.Render("("+formatElapsed(elapsed)+")"))
	if d.verbose && detail != "" {
		d.printf("%s\n", Muted.Render(detail))
	}
}

// Info prints a plain informational line.
func (d *Display) Info(format string, args ...any) {
	d.printf("%s\n", fmt.Sprintf(format, args...))
}

// Warn prints a highlighted warning line.
func (d *Display) Warn(format string, args ...any) {
	d.printf("%s\n", WarningMsg.Render("! "+fmt.Sprintf(format, args...)))
}

// Error prints a highlighted error line.
func (d *Display) Error(format string, args ...any) {
	d.printf("%s\n", ErrorMsg.Render(fmt.Sprintf(format, args...)))
}

// Logs prints a framed log excerpt. Only the last maxLines lines are shown;
// a note tells the user how much was dropped.
func (d *Display) Logs(title, logs string, maxLines int) {
	body, cut := util.TailLines(logs, maxLines)
	if strings.TrimSpace(body) == "" {
		body = "(no output)"
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = util.TruncateANSI(line, d.width-4)
	}
	d.printf("%s\n", Title.Render(title))
	if cut {
		d.printf("%s\n", Muted.Render(fmt.Sprintf("... showing last %d lines", maxLines)))
	}
	d.printf("%s\n", LogBox.Render(strings.Join(lines, "\n")))
}

// Markdown renders md with glamour, falling back to the raw text if
// rendering fails.
func (d *Display) Markdown(md string) {
	out, err := d.renderMarkdown(md)
	if err != nil {
		d.printf("%s\n", md)
		return
	}
	d.printf("%s", out)
}

func (d *Display) renderMarkdown(md string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.renderer == nil {
		style := glamour.WithStandardStyle("notty")
		if d.tty {
			style = glamour.WithAutoStyle()
		}
		r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(d.width))
		if err != nil {
			return "", err
		}
		d.renderer = r
	}
	return d.renderer.Render(md)
}

// Preview shows an artifact. Short artifacts are shown in full; long ones
// are cut to maxLines with a hint pointing at the file holding the rest.
func (d *Display) Preview(content, path string, maxLines int, markdown bool) {
	body, cut := util.HeadLines(content, maxLines)
	if markdown {
		d.Markdown(body)
	} else {
		d.printf("%s\n", body)
	}
	if cut && path != "" {
		d.printf("%s\n", Muted.Render(fmt.Sprintf("... preview truncated; open %s for the full content", path)))
	}
}

// Diff prints a line-level diff between two versions of a file.
func (d *Display) Diff(before, after string) {
	d.printf("%s", RenderDiff(before, after))
}

// RenderDiff returns a coloured line diff of before and after. Unchanged
// lines are prefixed with two spaces, removals with "- " and additions with "+ ".
func RenderDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, diff := range diffs {
		style, prefix := DiffContext, "  "
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			style, prefix = DiffAdd, "+ "
		case diffmatchpatch.DiffDelete:
			style, prefix = DiffRemove, "- "
		}
		for _, line := range strings.Split(strings.TrimSuffix(diff.Text, "\n"), "\n") {
			sb.WriteString(style.Render(prefix+line) + "\n")
		}
	}
	return sb.String()
}

// DiffStats counts added and removed lines between two versions.
func DiffStats(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	for _, diff := range dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines) {
		n := strings.Count(diff.Text, "\n")
		if !strings.HasSuffix(diff.Text, "\n") {
			n++
		}
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
