package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wordchain/internal/ledger"
)

func typeText(m *roundPrompt, s string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

// press sends a key and reports whether the prompt finished.
func press(m *roundPrompt, k tea.KeyType) bool {
	m.Update(tea.KeyMsg{Type: k})
	return m.done || m.aborted
}

func TestRoundPromptFillsEveryField(t *testing.T) {
	c := &RoundNewCmd{}
	m := newRoundPrompt(c)
	require.True(t, m.needed())
	require.Len(t, m.inputs, 1+ledger.NumOptions+1)

	for _, v := range append([]string{"Ephemeral"}, ephemeralOptions...) {
		typeText(m, v)
		assert.False(t, press(m, tea.KeyEnter))
		require.NoError(t, m.err)
	}
	assert.Contains(t, m.View(), "Correct option (1-4)")

	typeText(m, "1")
	assert.True(t, press(m, tea.KeyEnter))
	assert.Empty(t, m.View())

	require.NoError(t, m.apply(c))
	assert.Equal(t, "Ephemeral", c.Word)
	assert.Equal(t, ephemeralOptions, c.Options)
	assert.Equal(t, uint8(1), c.Correct)
}

func TestRoundPromptRejectsBadInput(t *testing.T) {
	c := &RoundNewCmd{Word: "Ephemeral"}
	m := newRoundPrompt(c)

	// Blank option stays on the same field.
	press(m, tea.KeyEnter)
	assert.ErrorIs(t, m.err, ledger.ErrValidation)
	assert.Equal(t, 0, m.focus)
	assert.Contains(t, m.View(), "option 1 is required")

	for _, v := range ephemeralOptions {
		typeText(m, v)
		press(m, tea.KeyEnter)
	}
	require.NoError(t, m.err)

	for _, bad := range []string{"seven", "9", "0"} {
		typeText(m, bad)
		assert.False(t, press(m, tea.KeyEnter))
		assert.ErrorIs(t, m.err, ledger.ErrInvalidOption, bad)
		m.inputs[m.focus].input.SetValue("")
	}

	typeText(m, "2")
	assert.True(t, press(m, tea.KeyEnter))
	require.NoError(t, m.apply(c))
	assert.Equal(t, uint8(2), c.Correct)
}

func TestRoundPromptValidatesWholeRound(t *testing.T) {
	c := &RoundNewCmd{Word: "éphémère", Options: ephemeralOptions}
	m := newRoundPrompt(c)
	require.Len(t, m.inputs, 1)

	typeText(m, "1")
	assert.False(t, press(m, tea.KeyEnter))
	assert.ErrorIs(t, m.err, ledger.ErrValidation)
	assert.ErrorIs(t, m.apply(c), errPromptAborted)
}

func TestRoundPromptGoesBack(t *testing.T) {
	c := &RoundNewCmd{}
	m := newRoundPrompt(c)

	typeText(m, "Ephmeral")
	press(m, tea.KeyEnter)
	assert.Equal(t, 1, m.focus)

	press(m, tea.KeyShiftTab)
	require.Equal(t, 0, m.focus)
	m.inputs[0].input.SetValue("")
	typeText(m, "Ephemeral")
	press(m, tea.KeyEnter)
	assert.Equal(t, "Ephemeral", m.word)
	assert.Equal(t, 1, m.focus)
}

func TestRoundPromptSkipsFlags(t *testing.T) {
	c := &RoundNewCmd{Word: "Ephemeral", Options: ephemeralOptions, Correct: 2}
	m := newRoundPrompt(c)
	assert.False(t, m.needed())
	require.NoError(t, c.prompt())

	partial := newRoundPrompt(&RoundNewCmd{Word: "Ephemeral", Options: ephemeralOptions[:2], Correct: 3})
	require.Len(t, partial.inputs, 2)
	assert.Equal(t, "Option 3", partial.inputs[0].label)
	assert.Equal(t, "Option 4", partial.inputs[1].label)
}

func TestRoundPromptCancel(t *testing.T) {
	c := &RoundNewCmd{}
	m := newRoundPrompt(c)
	typeText(m, "Ephemeral")
	assert.True(t, press(m, tea.KeyEsc))
	assert.ErrorIs(t, m.apply(c), errPromptAborted)
	assert.Empty(t, c.Word)
}
