package leaderboard

import (
	"context"

	"github.com/lox/wordchain/internal/ledger"
)

// RoundReader is the read side of the ledger used for discovery and
// history.
type RoundReader interface {
	Config() ledger.GameConfig
	Round(id uint64) (ledger.Round, error)
	Participants(roundID uint64) []string
	Guess(roundID uint64, player string) (ledger.Guess, bool)
	Result(roundID uint64) (ledger.RoundResult, bool)
}

// HistoryEntry is a player's view of one round they joined.
type HistoryEntry struct {
	RoundID  uint64       `json:"roundId"`
	Round    ledger.Round `json:"round"`
	Guess    ledger.Guess `json:"guess"`
	Settled  bool         `json:"settled"`
	Won      bool         `json:"won"`
	Earnings uint64       `json:"earnings"`
}

// recentRounds returns the last window round ids, newest first.
func recentRounds(r RoundReader, window uint64) []uint64 {
	current := r.Config().CurrentRoundID
	if window == 0 || window > current {
		window = current
	}
	ids := make([]uint64, 0, window)
	for id := current; id > current-window; id-- {
		ids = append(ids, id)
	}
	return ids
}

// ActivePlayers lists everyone who joined one of the last window rounds,
// most recent round first and in join order within a round.
func ActivePlayers(ctx context.Context, r RoundReader, window uint64) ([]string, error) {
	seen := map[string]struct{}{}
	var players []string
	for _, id := range recentRounds(r, window) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, p := range r.Participants(id) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			players = append(players, p)
		}
	}
	return players, nil
}

// History returns the rounds among the last window that player joined,
// newest first. A window of zero covers every round.
func History(ctx context.Context, r RoundReader, player string, window uint64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, id := range recentRounds(r, window) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		guess, ok := r.Guess(id, player)
		if !ok {
			continue
		}
		round, err := r.Round(id)
		if err != nil {
			continue
		}
		entry := HistoryEntry{RoundID: id, Round: round, Guess: guess}
		if res, ok := r.Result(id); ok {
			entry.Settled = true
			entry.Won = guess.Option == res.CorrectOption
			if entry.Won {
				entry.Earnings = res.PerWinnerShare
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
