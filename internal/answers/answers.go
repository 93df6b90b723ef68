// Package answers keeps the operator-supplied correct answer of each round so
// the watchdog can settle rounds with ground truth.
package answers

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no answer was stored for a round.
var ErrNotFound = errors.New("answers: not found")

// Answer is the correct option of a round and its text.
type Answer struct {
	Text   string `json:"answer"`
	Option uint8  `json:"option"`
}

// Validate checks the option range and that the text is present.
func (a Answer) Validate() error {
	if a.Option < 1 || a.Option > 4 {
		return fmt.Errorf("answers: option %d out of range", a.Option)
	}
	if a.Text == "" {
		return fmt.Errorf("answers: answer text is required")
	}
	return nil
}

// Store is a key-value cache of answers scoped by round id.
type Store interface {
	Put(ctx context.Context, roundID uint64, answer Answer) error
	Get(ctx context.Context, roundID uint64) (Answer, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	answers map[uint64]Answer
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{answers: map[uint64]Answer{}}
}

func (m *Memory) Put(ctx context.Context, roundID uint64, answer Answer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := answer.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[roundID] = answer
	return nil
}

func (m *Memory) Get(ctx context.Context, roundID uint64) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.answers[roundID]
	if !ok {
		return Answer{}, ErrNotFound
	}
	return a, nil
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)
