package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lox/wordchain/internal/ledger"
)

var errPromptAborted = errors.New("round creation cancelled")

type promptField int

const (
	fieldWord promptField = iota
	fieldOption
	fieldCorrect
)

type promptInput struct {
	kind  promptField
	index int // option index for fieldOption
	label string
	input textinput.Model
}

// roundPrompt asks for whatever RoundNewCmd did not get from flags, one
// field at a time. Enter accepts a field, shift+tab goes back, esc cancels.
type roundPrompt struct {
	word    string
	options []string
	correct uint8

	inputs  []promptInput
	focus   int
	err     error
	done    bool
	aborted bool
}

func newRoundPrompt(c *RoundNewCmd) *roundPrompt {
	m := &roundPrompt{word: c.Word, correct: c.Correct}
	m.options = append(m.options, c.Options...)

	if strings.TrimSpace(m.word) == "" {
		m.add(fieldWord, 0, "Vocabulary word", ledger.MaxWordLength)
	}
	for i := len(m.options); i < ledger.NumOptions; i++ {
		m.options = append(m.options, "")
		m.add(fieldOption, i, fmt.Sprintf("Option %d", i+1), ledger.MaxOptionLength)
	}
	if !ledger.ValidOption(m.correct) {
		m.add(fieldCorrect, 0, fmt.Sprintf("Correct option (1-%d)", ledger.NumOptions), 1)
	}
	if len(m.inputs) > 0 {
		m.inputs[0].input.Focus()
	}
	return m
}

func (m *roundPrompt) add(kind promptField, index int, label string, limit int) {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = limit
	ti.Width = 60
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	m.inputs = append(m.inputs, promptInput{kind: kind, index: index, label: label, input: ti})
}

// needed reports whether any value is missing.
func (m *roundPrompt) needed() bool {
	return len(m.inputs) > 0
}

func (m *roundPrompt) Init() tea.Cmd {
	return textinput.Blink
}

func (m *roundPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			return m.accept()
		case "shift+tab", "up":
			if m.focus > 0 {
				m.err = nil
				return m, m.move(m.focus - 1)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	cur := &m.inputs[m.focus]
	cur.input, cmd = cur.input.Update(msg)
	return m, cmd
}

// accept validates the focused field and moves on. The last field also
// validates the whole round.
func (m *roundPrompt) accept() (tea.Model, tea.Cmd) {
	cur := m.inputs[m.focus]
	value := strings.TrimSpace(cur.input.Value())
	if err := m.set(cur, value); err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil

	if m.focus < len(m.inputs)-1 {
		return m, m.move(m.focus + 1)
	}
	if _, err := newRoundPlan(m.word, m.options, m.correct); err != nil {
		m.err = err
		return m, nil
	}
	m.done = true
	m.inputs[m.focus].input.Blur()
	return m, tea.Quit
}

func (m *roundPrompt) set(in promptInput, value string) error {
	switch in.kind {
	case fieldWord:
		if value == "" {
			return fmt.Errorf("%w: word is required", ledger.ErrValidation)
		}
		m.word = value
	case fieldOption:
		if value == "" {
			return fmt.Errorf("%w: option %d is required", ledger.ErrValidation, in.index+1)
		}
		m.options[in.index] = value
	case fieldCorrect:
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil || !ledger.ValidOption(uint8(n)) {
			return fmt.Errorf("%w: enter a number between 1 and %d", ledger.ErrInvalidOption, ledger.NumOptions)
		}
		m.correct = uint8(n)
	}
	return nil
}

func (m *roundPrompt) move(to int) tea.Cmd {
	m.inputs[m.focus].input.Blur()
	m.focus = to
	return m.inputs[m.focus].input.Focus()
}

func (m *roundPrompt) View() string {
	if m.done || m.aborted {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("New round") + "\n\n")
	for i, in := range m.inputs {
		if i > m.focus {
			break
		}
		b.WriteString(label(in.label) + "\n")
		b.WriteString(in.input.View() + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + warnStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("enter to accept, shift+tab to go back, esc to cancel"))
	return b.String()
}

// apply copies the answers back onto c.
func (m *roundPrompt) apply(c *RoundNewCmd) error {
	if m.aborted || !m.done {
		return errPromptAborted
	}
	c.Word = m.word
	c.Options = m.options
	c.Correct = m.correct
	return nil
}

// prompt runs the interactive form when a flag is missing.
func (c *RoundNewCmd) prompt(opts ...tea.ProgramOption) error {
	m := newRoundPrompt(c)
	if !m.needed() {
		return nil
	}
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	return final.(*roundPrompt).apply(c)
}
