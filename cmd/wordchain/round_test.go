package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/ledger"
)

var ephemeralOptions = []string{"Lasting a short time", "Everlasting and eternal", "Extremely painful", "Brightly colorful"}

func TestNewRoundPlan(t *testing.T) {
	plan, err := newRoundPlan("Ephemeral", ephemeralOptions, 1)
	require.NoError(t, err)
	assert.Equal(t, "Lasting a short time", plan.Answer())
	assert.Equal(t, commitment.Commit("Ephemeral", "Lasting a short time"), plan.Commitment)

	req := createRequest(plan)
	assert.Equal(t, plan.Commitment.String(), req.Commitment)
	assert.Equal(t, uint8(1), req.Option)
	assert.Equal(t, ephemeralOptions, req.Options)
}

func TestNewRoundPlanRejects(t *testing.T) {
	tests := []struct {
		name    string
		word    string
		options []string
		correct uint8
		want    error
	}{
		{"three options", "Ephemeral", ephemeralOptions[:3], 1, ledger.ErrValidation},
		{"correct out of range", "Ephemeral", ephemeralOptions, 5, ledger.ErrInvalidOption},
		{"correct zero", "Ephemeral", ephemeralOptions, 0, ledger.ErrInvalidOption},
		{"empty word", " ", ephemeralOptions, 1, ledger.ErrValidation},
		{"non-ascii word", "éphémère", ephemeralOptions, 1, ledger.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRoundPlan(tt.word, tt.options, tt.correct)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRenderPlan(t *testing.T) {
	plan, err := newRoundPlan("Ephemeral", ephemeralOptions, 1)
	require.NoError(t, err)

	out := renderPlan(plan)
	assert.Contains(t, out, plan.Commitment.String())
	assert.Contains(t, out, `"word": "Ephemeral"`)
	assert.Contains(t, out, `"answer": "Lasting a short time"`)
	assert.Contains(t, out, `"option": 1`)
	assert.Contains(t, out, "/v1/rounds/{id}/reveal")
}
