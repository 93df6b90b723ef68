package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lox/wordchain/internal/leaderboard"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/lifecycle"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return labelStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func roundTable(rounds []ledger.Round, height uint64) string {
	t := newTable("ID", "Word", "Phase", "Players", "Pool", "Reveal at", "Answer")
	for _, r := range rounds {
		answer := "-"
		if r.Revealed {
			answer = strconv.Itoa(int(r.CorrectOption))
		}
		t.Row(
			strconv.FormatUint(r.ID, 10),
			r.Word,
			lifecycle.PhaseOf(r, height).String(),
			strconv.FormatUint(uint64(r.ParticipantCount), 10),
			strconv.FormatUint(r.Pool, 10),
			strconv.FormatUint(r.RevealHeight, 10),
			answer,
		)
	}
	return t.String()
}

func leaderboardTable(rows []leaderboard.Row) string {
	t := newTable("#", "Player", "Games", "Correct", "Win rate", "Earned", "Streak", "Best")
	for _, r := range rows {
		t.Row(
			strconv.Itoa(r.Rank),
			r.Player,
			strconv.FormatUint(r.TotalGames, 10),
			strconv.FormatUint(r.CorrectGuesses, 10),
			fmt.Sprintf("%.1f%%", r.WinRate),
			strconv.FormatUint(r.TotalEarned, 10),
			strconv.FormatUint(r.WinStreak, 10),
			strconv.FormatUint(r.BestStreak, 10),
		)
	}
	return t.String()
}

func historyTable(entries []leaderboard.HistoryEntry) string {
	t := newTable("Round", "Word", "Guess", "Answer", "Result", "Earned")
	for _, e := range entries {
		result, answer := "pending", "-"
		if e.Settled {
			answer = strconv.Itoa(int(e.Round.CorrectOption))
			result = "lost"
			if e.Won {
				result = "won"
			}
		}
		t.Row(
			strconv.FormatUint(e.RoundID, 10),
			e.Round.Word,
			strconv.Itoa(int(e.Guess.Option)),
			answer,
			result,
			strconv.FormatUint(e.Earnings, 10),
		)
	}
	return t.String()
}
