// Package settlement executes the single reveal transition of a round:
// commitment check, winner selection, prize split and statistics update.
package settlement

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/ledger"
)

// RevealRequest is a claim about a round's committed answer.
type RevealRequest struct {
	RoundID  uint64 `json:"roundId"`
	Word     string `json:"word"`
	Answer   string `json:"answer"`
	Option   uint8  `json:"option"`
	Revealer string `json:"revealer"`
}

// Result describes a committed settlement.
type Result struct {
	RoundID        uint64   `json:"roundId"`
	CorrectOption  uint8    `json:"correctOption"`
	Winners        []string `json:"winners"`
	Losers         []string `json:"losers"`
	Pool           uint64   `json:"pool"`
	PerWinnerShare uint64   `json:"perWinnerShare"`
	TreasuryCut    uint64   `json:"treasuryCut"`
	Dust           uint64   `json:"dust"`
}

// Total returns the amount accounted for by the settlement; it equals the
// round's pool.
func (r Result) Total() uint64 {
	return r.PerWinnerShare*uint64(len(r.Winners)) + r.TreasuryCut + r.Dust
}

// Ledger is the part of the round store the engine needs.
type Ledger interface {
	Height() uint64
	Config() ledger.GameConfig
	Round(id uint64) (ledger.Round, error)
	Guesses(roundID uint64) []ledger.Guess
	SettleRound(roundID uint64, s ledger.Settlement) (ledger.RoundResult, error)
}

// Engine performs reveals against a ledger.
type Engine struct {
	ledger Ledger
	logger *log.Logger
}

// NewEngine returns an engine bound to l.
func NewEngine(l Ledger, logger *log.Logger) *Engine {
	return &Engine{ledger: l, logger: logger.WithPrefix("settlement")}
}

// Reveal validates req against the round's commitment and settles it. On
// any error nothing is changed. The store re-checks round state under its
// own lock, so a concurrent reveal of the same round fails with
// ErrAlreadyRevealed instead of paying twice.
func (e *Engine) Reveal(ctx context.Context, req RevealRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	round, err := e.ledger.Round(req.RoundID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: round %d does not exist", ledger.ErrRoundNotEnded, req.RoundID)
	}
	if round.Revealed {
		return Result{}, fmt.Errorf("%w: round %d", ledger.ErrAlreadyRevealed, round.ID)
	}
	height := e.ledger.Height()
	if !round.Active || !round.Expired(height) {
		return Result{}, fmt.Errorf("%w: round %d reveals at height %d, now %d", ledger.ErrRoundNotEnded, round.ID, round.RevealHeight, height)
	}

	cfg := e.ledger.Config()
	if req.Revealer == "" || req.Revealer != cfg.Admin {
		return Result{}, fmt.Errorf("%w: %q may not reveal", ledger.ErrUnauthorized, req.Revealer)
	}
	if req.Word != round.Word || !commitment.Verify(round.Commitment, req.Word, req.Answer) {
		return Result{}, fmt.Errorf("%w: round %d", ledger.ErrCommitmentMismatch, round.ID)
	}
	if !ledger.ValidOption(req.Option) || round.Options[req.Option-1] != req.Answer {
		return Result{}, fmt.Errorf("%w: option %d is not %q", ledger.ErrOptionMismatch, req.Option, req.Answer)
	}

	guesses := e.ledger.Guesses(round.ID)
	var winners, losers []string
	for _, g := range guesses {
		if g.Option == req.Option {
			winners = append(winners, g.Player)
		} else {
			losers = append(losers, g.Player)
		}
	}

	dist, err := Distribute(round.Pool, cfg.TreasuryFeePercent, len(winners))
	if err != nil {
		return Result{}, err
	}

	outcomes := make([]ledger.PlayerOutcome, 0, len(guesses))
	for _, g := range guesses {
		won := g.Option == req.Option
		o := ledger.PlayerOutcome{Player: g.Player, Won: won}
		if won {
			o.Payout = dist.PerWinnerShare
		}
		outcomes = append(outcomes, o)
	}

	if _, err := e.ledger.SettleRound(round.ID, ledger.Settlement{
		CorrectOption:  req.Option,
		Revealer:       req.Revealer,
		PerWinnerShare: dist.PerWinnerShare,
		TreasuryCut:    dist.TreasuryCut,
		Dust:           dist.Dust,
		Outcomes:       outcomes,
	}); err != nil {
		return Result{}, err
	}

	e.logger.Info("Round revealed",
		"round", round.ID,
		"option", req.Option,
		"winners", len(winners),
		"losers", len(losers),
		"pool", round.Pool,
		"share", dist.PerWinnerShare)

	return Result{
		RoundID:        round.ID,
		CorrectOption:  req.Option,
		Winners:        winners,
		Losers:         losers,
		Pool:           round.Pool,
		PerWinnerShare: dist.PerWinnerShare,
		TreasuryCut:    dist.TreasuryCut,
		Dust:           dist.Dust,
	}, nil
}
