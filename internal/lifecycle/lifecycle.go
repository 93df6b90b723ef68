// Package lifecycle owns the round state machine: creation is serialized and
// refused while an unsettled round exists, and admission closes at the
// reveal height.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/wordchain/internal/answers"
	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/ledger"
)

// Phase is the externally visible state of a round.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseExpired
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseExpired:
		return "expired"
	case PhaseSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// IsExpired reports whether height is at or past the round's reveal height.
func IsExpired(round ledger.Round, height uint64) bool {
	return round.Expired(height)
}

// CanJoin reports whether the round admits guesses at height.
func CanJoin(round ledger.Round, height uint64) bool {
	return round.Open(height)
}

// PhaseOf returns the phase of round at height.
func PhaseOf(round ledger.Round, height uint64) Phase {
	switch {
	case round.Revealed:
		return PhaseSettled
	case IsExpired(round, height):
		return PhaseExpired
	default:
		return PhaseCreated
	}
}

// CreateRequest is an admin's request for a new round. When Answer is set
// it is checked against the commitment and kept in the answer cache; a
// zero Commitment is then derived from it.
type CreateRequest struct {
	Word       string
	Options    [ledger.NumOptions]string
	Commitment commitment.Digest
	Creator    string
	Answer     *answers.Answer
}

// Store is the part of the ledger the lifecycle drives.
type Store interface {
	Height() uint64
	CurrentRound() (ledger.Round, bool)
	CreateRound(req ledger.CreateRoundRequest) (uint64, error)
	SubmitGuess(roundID uint64, player string, option uint8) error
}

// Manager serializes round creation against a ledger.
type Manager struct {
	mu      sync.Mutex
	store   Store
	answers answers.Store
	logger  *log.Logger
}

// NewManager returns a manager. cache may be nil, in which case answers
// supplied at creation are verified but not kept.
func NewManager(store Store, cache answers.Store, logger *log.Logger) *Manager {
	return &Manager{store: store, answers: cache, logger: logger.WithPrefix("lifecycle")}
}

// RequestCreateRound creates the next round, failing with
// ledger.ErrRoundInProgress while the current round is unsettled.
func (m *Manager) RequestCreateRound(ctx context.Context, req CreateRequest) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	digest := req.Commitment
	if req.Answer != nil {
		if err := checkAnswer(req, digest); err != nil {
			return 0, err
		}
		if digest.IsZero() {
			digest = commitment.Commit(req.Word, req.Answer.Text)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.store.CurrentRound(); ok && cur.Active && !cur.Revealed {
		return 0, fmt.Errorf("%w: round %d is unsettled", ledger.ErrRoundInProgress, cur.ID)
	}

	id, err := m.store.CreateRound(ledger.CreateRoundRequest{
		Word:       req.Word,
		Options:    req.Options,
		Commitment: digest,
		Creator:    req.Creator,
	})
	if err != nil {
		return 0, err
	}

	if req.Answer != nil && m.answers != nil {
		// The round exists either way; a cache miss only weakens the
		// watchdog's fallback.
		if err := m.answers.Put(ctx, id, *req.Answer); err != nil {
			m.logger.Warn("Failed to store round answer", "round", id, "error", err)
		}
	}
	return id, nil
}

func checkAnswer(req CreateRequest, digest commitment.Digest) error {
	a := req.Answer
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	if req.Options[a.Option-1] != a.Text {
		return fmt.Errorf("%w: option %d is not %q", ledger.ErrValidation, a.Option, a.Text)
	}
	if !digest.IsZero() && !commitment.Verify(digest, req.Word, a.Text) {
		return fmt.Errorf("%w: answer does not match commitment", ledger.ErrCommitmentMismatch)
	}
	return nil
}

// Join submits player's guess to the current round.
func (m *Manager) Join(ctx context.Context, player string, option uint8) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ledger.ValidOption(option) {
		return 0, fmt.Errorf("%w: %d", ledger.ErrInvalidOption, option)
	}
	cur, ok := m.store.CurrentRound()
	if !ok || !CanJoin(cur, m.store.Height()) {
		return 0, fmt.Errorf("%w: no round accepting guesses", ledger.ErrNoActiveRound)
	}
	if err := m.store.SubmitGuess(cur.ID, player, option); err != nil {
		return 0, err
	}
	return cur.ID, nil
}
