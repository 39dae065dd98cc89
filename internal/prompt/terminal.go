package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// outcome is how a prompt model finished.
type outcome int

const (
	outcomePending outcome = iota
	outcomeDone
	outcomeBack
	outcomeInterrupted
)

func (o outcome) err() error {
	switch o {
	case outcomeBack:
		return ErrBack
	case outcomeInterrupted, outcomePending:
		return ErrInterrupted
	}
	return nil
}

// Terminal is a Prompter backed by small bubbletea programs.
type Terminal struct {
	in  io.Reader
	out io.Writer
}

// NewTerminal creates a terminal Prompter.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

func (t *Terminal) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	p := tea.NewProgram(m, tea.WithInput(t.in), tea.WithOutput(t.out), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return nil, ErrInterrupted
	}
	return final, nil
}

// Select implements Prompter.
func (t *Terminal) Select(ctx context.Context, question string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("select %q: no options", question)
	}
	final, err := t.run(ctx, newSelectModel(question, options))
	if err != nil {
		return 0, err
	}
	m := final.(selectModel)
	return m.cursor, m.outcome.err()
}

// Confirm implements Prompter.
func (t *Terminal) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	options := []string{"Yes", "No"}
	m := newSelectModel(question, options)
	if !def {
		m.cursor = 1
	}
	final, err := t.run(ctx, m)
	if err != nil {
		return false, err
	}
	sm := final.(selectModel)
	return sm.cursor == 0, sm.outcome.err()
}

// Input implements Prompter.
func (t *Terminal) Input(ctx context.Context, question, def string) (string, error) {
	final, err := t.run(ctx, newInputModel(question, def, false))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if err := m.outcome.err(); err != nil {
		return "", err
	}
	if v := strings.TrimSpace(m.input.Value()); v != "" {
		return v, nil
	}
	return def, nil
}

// Secret implements Prompter.
func (t *Terminal) Secret(ctx context.Context, question string) (string, error) {
	final, err := t.run(ctx, newInputModel(question, "", true))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if err := m.outcome.err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(m.input.Value()), nil
}

// Multiline implements Prompter.
func (t *Terminal) Multiline(ctx context.Context, question string) (string, error) {
	final, err := t.run(ctx, newTextModel(question))
	if err != nil {
		return "", err
	}
	m := final.(textModel)
	if err := m.outcome.err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(m.area.Value()), nil
}

// selectModel is a vertical option list.
type selectModel struct {
	question string
	options  []string
	cursor   int
	outcome  outcome
}

func newSelectModel(question string, options []string) selectModel {
	return selectModel{question: question, options: options}
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c":
		m.outcome = outcomeInterrupted
		return m, tea.Quit
	case "esc":
		m.outcome = outcomeBack
		return m, tea.Quit
	case "up", "k":
		m.cursor--
		if m.cursor < 0 {
			m.cursor = len(m.options) - 1
		}
	case "down", "j":
		m.cursor++
		if m.cursor >= len(m.options) {
			m.cursor = 0
		}
	case "enter":
		m.outcome = outcomeDone
		return m, tea.Quit
	default:
		// Digits jump straight to an option.
		if s := key.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			if idx := int(s[0] - '1'); idx < len(m.options) {
				m.cursor = idx
			}
		}
	}
	return m, nil
}

func (m selectModel) View() string {
	if m.outcome != outcomePending {
		if m.outcome == outcomeDone {
			return questionStyle.Render(m.question) + " " + m.options[m.cursor] + "\n"
		}
		return ""
	}
	var sb strings.Builder
	sb.WriteString(questionStyle.Render(m.question) + "\n")
	for i, opt := range m.options {
		if i == m.cursor {
			sb.WriteString(cursorStyle.Render("› "+opt) + "\n")
		} else {
			sb.WriteString("  " + opt + "\n")
		}
	}
	sb.WriteString(helpStyle.Render("↑/↓ move • enter select • esc back • ctrl+c quit") + "\n")
	return sb.String()
}

// inputModel is a single-line text field.
type inputModel struct {
	question string
	input    textinput.Model
	outcome  outcome
}

func newInputModel(question, def string, secret bool) inputModel {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60
	ti.Placeholder = def
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return inputModel{question: question, input: ti}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			m.outcome = outcomeInterrupted
			return m, tea.Quit
		case "esc":
			m.outcome = outcomeBack
			return m, tea.Quit
		case "enter":
			m.outcome = outcomeDone
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.outcome != outcomePending {
		return ""
	}
	return questionStyle.Render(m.question) + "\n" + m.input.View() + "\n" +
		helpStyle.Render("enter confirm • esc back") + "\n"
}

// textModel is a multi-line editor; ctrl+d submits.
type textModel struct {
	question string
	area     textarea.Model
	outcome  outcome
}

func newTextModel(question string) textModel {
	ta := textarea.New()
	ta.Focus()
	ta.SetWidth(80)
	ta.SetHeight(8)
	ta.CharLimit = 0
	return textModel{question: question, area: ta}
}

func (m textModel) Init() tea.Cmd { return textarea.Blink }

func (m textModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			m.outcome = outcomeInterrupted
			return m, tea.Quit
		case "esc":
			m.outcome = outcomeBack
			return m, tea.Quit
		case "ctrl+d":
			m.outcome = outcomeDone
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.area, cmd = m.area.Update(msg)
	return m, cmd
}

func (m textModel) View() string {
	if m.outcome != outcomePending {
		return ""
	}
	return questionStyle.Render(m.question) + "\n" + m.area.View() + "\n" +
		helpStyle.Render("ctrl+d submit • esc back") + "\n"
}
