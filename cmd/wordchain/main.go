package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Globals

	Version     kong.VersionFlag `short:"v" help:"Show version"`
	Serve       ServeCmd         `cmd:"" help:"Run the round engine, HTTP API and watchdog"`
	Watchdog    WatchdogCmd      `cmd:"" help:"Reveal expired rounds on a remote server"`
	Round       RoundCmd         `cmd:"" help:"Create and inspect rounds"`
	Guess       GuessCmd         `cmd:"" help:"Submit a guess for the current round"`
	Hash        HashCmd          `cmd:"" help:"Compute the commitment for a word and answer"`
	Leaderboard LeaderboardCmd   `cmd:"" help:"Show the leaderboard"`
	Player      PlayerCmd        `cmd:"" help:"Show a player's stats and history"`
	Admin       AdminCmd         `cmd:"" help:"Administrative ledger operations"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wordchain"),
		kong.Description("Commit-reveal vocabulary rounds with a shared prize pool"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	cli.applyColor()
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
