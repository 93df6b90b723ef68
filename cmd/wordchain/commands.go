package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/lox/wordchain/internal/client"
	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/leaderboard"
	"github.com/lox/wordchain/internal/ledger"
)

// HashCmd prints the commitment for a word and its correct answer.
type HashCmd struct {
	Word   string `arg:"" help:"Vocabulary word"`
	Answer string `arg:"" help:"Correct answer text"`
}

func (c *HashCmd) Run(g *Globals) error {
	fmt.Println(commitment.Commit(c.Word, c.Answer).String())
	return nil
}

// GuessCmd joins the current round as the principal behind --token.
type GuessCmd struct {
	Option uint8  `arg:"" help:"Option number (1-4)"`
	Round  uint64 `help:"Guess for this round instead of the current one"`
	Stream bool   `help:"Join over the websocket event stream instead of the HTTP API"`
}

func (c *GuessCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	api := g.client(logger)
	ctx := context.Background()

	if c.Stream {
		if c.Round != 0 {
			return fmt.Errorf("--stream always joins the current round; drop --round")
		}
		ctx, cancel := context.WithTimeout(ctx, g.Timeout)
		defer cancel()
		roundID, err := joinOverStream(ctx, api, c.Option)
		if err != nil {
			return err
		}
		fmt.Printf("%s option %d in round %d %s\n", label("Guessed"), c.Option, roundID, dimStyle.Render("via stream"))
		return nil
	}

	var roundID uint64
	var txID string
	if c.Round != 0 {
		res, err := api.SubmitGuess(ctx, c.Round, c.Option)
		if err != nil {
			return err
		}
		roundID, txID = res.Result.RoundID, res.TxID
	} else {
		res, err := api.Join(ctx, c.Option)
		if err != nil {
			return err
		}
		roundID, txID = res.Result.RoundID, res.TxID
	}
	fmt.Printf("%s option %d in round %d %s\n", label("Guessed"), c.Option, roundID, dimStyle.Render("tx "+txID))
	return nil
}

// joinOverStream opens a stream authenticated by the client's token and
// joins the current round on it.
func joinOverStream(ctx context.Context, api *client.Client, option uint8) (uint64, error) {
	stream, err := api.Subscribe(ctx)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	return stream.Join(ctx, option)
}

type LeaderboardCmd struct {
	Sort     string `default:"win-rate" enum:"win-rate,earnings,correct" help:"Ordering (win-rate, earnings, correct)"`
	Limit    int    `default:"10" help:"Number of rows"`
	Window   uint64 `default:"10" help:"Rounds scanned for active players"`
	MinGames uint64 `name:"min-games" default:"3" help:"Minimum games for win-rate ranking"`
}

func (c *LeaderboardCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	rows, err := g.client(logger).Leaderboard(context.Background(), client.LeaderboardQuery{
		Sort:     leaderboard.SortKey(c.Sort),
		Limit:    c.Limit,
		Window:   c.Window,
		MinGames: c.MinGames,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println(dimStyle.Render("No ranked players yet."))
		return nil
	}
	fmt.Println(headerStyle.Render("Leaderboard by " + c.Sort))
	fmt.Println(leaderboardTable(rows))
	return nil
}

type PlayerCmd struct {
	Name   string `arg:"" help:"Player principal"`
	Window uint64 `default:"20" help:"Rounds of history to show"`
}

func (c *PlayerCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	api := g.client(logger)
	ctx := context.Background()

	stats, err := api.PlayerStats(ctx, c.Name)
	if err != nil {
		return err
	}
	balance, err := api.Balance(ctx, c.Name)
	if err != nil {
		return err
	}
	history, err := api.History(ctx, c.Name, c.Window)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(c.Name))
	fmt.Println(strings.Join([]string{
		fmt.Sprintf("%s %d", label("Balance"), balance),
		fmt.Sprintf("%s %d", label("Games"), stats.TotalGames),
		fmt.Sprintf("%s %d (%.1f%%)", label("Correct"), stats.CorrectGuesses, leaderboard.WinRate(stats)),
		fmt.Sprintf("%s %d", label("Earned"), stats.TotalEarned),
		fmt.Sprintf("%s %d (best %d)", label("Streak"), stats.WinStreak, stats.BestStreak),
	}, "\n"))
	if len(history) > 0 {
		fmt.Println(historyTable(history))
	}
	return nil
}

type AdminCmd struct {
	Mint          AdminMintCmd          `cmd:"" help:"Credit a player's balance"`
	EntryFee      AdminEntryFeeCmd      `cmd:"" name:"entry-fee" help:"Set the entry fee for new rounds"`
	TreasuryFee   AdminTreasuryFeeCmd   `cmd:"" name:"treasury-fee" help:"Set the treasury fee percent"`
	RoundDuration AdminRoundDurationCmd `cmd:"" name:"round-duration" help:"Set the round duration in blocks"`
}

type AdminMintCmd struct {
	Player string `arg:"" help:"Player principal"`
	Amount uint64 `arg:"" help:"Amount in micro units"`
}

func (c *AdminMintCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	balance, err := g.client(logger).Mint(context.Background(), c.Player, c.Amount)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s now holds %d\n", label("Minted"), c.Player, balance)
	return nil
}

type AdminEntryFeeCmd struct {
	Fee uint64 `arg:"" help:"Entry fee in micro units"`
}

func (c *AdminEntryFeeCmd) Run(g *Globals) error {
	return updateConfig(g, func(api *client.Client) (ledger.GameConfig, error) {
		return api.SetEntryFee(context.Background(), c.Fee)
	})
}

type AdminTreasuryFeeCmd struct {
	Percent uint64 `arg:"" help:"Treasury share of each pool (0-100)"`
}

func (c *AdminTreasuryFeeCmd) Run(g *Globals) error {
	return updateConfig(g, func(api *client.Client) (ledger.GameConfig, error) {
		return api.SetTreasuryFeePercent(context.Background(), c.Percent)
	})
}

type AdminRoundDurationCmd struct {
	Blocks uint64 `arg:"" help:"Round length in blocks"`
}

func (c *AdminRoundDurationCmd) Run(g *Globals) error {
	return updateConfig(g, func(api *client.Client) (ledger.GameConfig, error) {
		return api.SetRoundDuration(context.Background(), c.Blocks)
	})
}

func updateConfig(g *Globals, set func(*client.Client) (ledger.GameConfig, error)) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	cfg, err := set(g.client(logger))
	if err != nil {
		return err
	}
	fmt.Printf("%s entry fee %d, treasury %d%%, duration %d blocks\n",
		label("Config"), cfg.EntryFee, cfg.TreasuryFeePercent, cfg.RoundDuration)
	return nil
}
