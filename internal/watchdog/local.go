package watchdog

import (
	"context"

	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/settlement"
)

// Local serves the watchdog from an in-process ledger.
type Local struct {
	Store  *ledger.Store
	Engine *settlement.Engine
}

var _ Ledger = Local{}

func (l Local) Height(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.Store.Height(), nil
}

func (l Local) CurrentRoundID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.Store.Config().CurrentRoundID, nil
}

func (l Local) Round(ctx context.Context, id uint64) (ledger.Round, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Round{}, err
	}
	return l.Store.Round(id)
}

func (l Local) Guesses(ctx context.Context, roundID uint64) ([]ledger.Guess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Store.Guesses(roundID), nil
}

func (l Local) Reveal(ctx context.Context, req settlement.RevealRequest) (settlement.Result, error) {
	return l.Engine.Reveal(ctx, req)
}
