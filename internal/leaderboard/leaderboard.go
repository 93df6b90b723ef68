// Package leaderboard ranks players by their settled-round statistics and
// reconstructs per-player round history.
package leaderboard

import (
	"context"
	"sort"

	"github.com/lox/wordchain/internal/ledger"
)

// SortKey selects the ranking metric.
type SortKey string

const (
	ByWinRate        SortKey = "win-rate"
	ByTotalEarned    SortKey = "earnings"
	ByCorrectGuesses SortKey = "correct"
)

// DefaultMinGames is the number of settled games before a player is ranked
// by win rate.
const DefaultMinGames = 3

// Row is one ranked player.
type Row struct {
	Rank           int     `json:"rank"`
	Player         string  `json:"player"`
	TotalGames     uint64  `json:"totalGames"`
	CorrectGuesses uint64  `json:"correctGuesses"`
	TotalEarned    uint64  `json:"totalEarned"`
	WinStreak      uint64  `json:"winStreak"`
	BestStreak     uint64  `json:"bestStreak"`
	LastPlayed     uint64  `json:"lastPlayed"`
	WinRate        float64 `json:"winRate"`
}

// StatsReader looks up player statistics.
type StatsReader interface {
	PlayerStats(player string) ledger.PlayerStats
}

// WinRate returns correct guesses as a percentage of games played.
func WinRate(s ledger.PlayerStats) float64 {
	if s.TotalGames == 0 {
		return 0
	}
	return float64(s.CorrectGuesses) / float64(s.TotalGames) * 100
}

// Project builds ranked rows for players. Players who never finished a game
// are left out and duplicates are folded.
func Project(ctx context.Context, r StatsReader, players []string, key SortKey) ([]Row, error) {
	seen := make(map[string]struct{}, len(players))
	rows := make([]Row, 0, len(players))
	for _, p := range players {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		s := r.PlayerStats(p)
		if s.TotalGames == 0 {
			continue
		}
		rows = append(rows, Row{
			Player:         p,
			TotalGames:     s.TotalGames,
			CorrectGuesses: s.CorrectGuesses,
			TotalEarned:    s.TotalEarned,
			WinStreak:      s.WinStreak,
			BestStreak:     s.BestStreak,
			LastPlayed:     s.LastPlayed,
			WinRate:        WinRate(s),
		})
	}
	Sort(rows, key)
	return rows, nil
}

// Sort orders rows by key, descending, with ties broken by player id, and
// renumbers their ranks.
func Sort(rows []Row, key SortKey) {
	less := func(a, b Row) (bool, bool) {
		switch key {
		case ByTotalEarned:
			return a.TotalEarned > b.TotalEarned, a.TotalEarned == b.TotalEarned
		case ByCorrectGuesses:
			return a.CorrectGuesses > b.CorrectGuesses, a.CorrectGuesses == b.CorrectGuesses
		default:
			return a.WinRate > b.WinRate, a.WinRate == b.WinRate
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		before, equal := less(rows[i], rows[j])
		if equal {
			return rows[i].Player < rows[j].Player
		}
		return before
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

// TopByEarnings returns up to limit players ordered by total earned.
func TopByEarnings(ctx context.Context, r StatsReader, players []string, limit int) ([]Row, error) {
	rows, err := Project(ctx, r, players, ByTotalEarned)
	if err != nil {
		return nil, err
	}
	return truncate(rows, limit), nil
}

// TopByWinRate returns up to limit players with at least minGames games,
// ordered by win rate.
func TopByWinRate(ctx context.Context, r StatsReader, players []string, limit int, minGames uint64) ([]Row, error) {
	rows, err := Project(ctx, r, players, ByWinRate)
	if err != nil {
		return nil, err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row.TotalGames >= minGames {
			kept = append(kept, row)
		}
	}
	Sort(kept, ByWinRate)
	return truncate(kept, limit), nil
}

func truncate(rows []Row, limit int) []Row {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
