package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/lox/wordchain/cmd/wordchain/shared"
	"github.com/lox/wordchain/internal/answers"
	"github.com/lox/wordchain/internal/client"
	"github.com/lox/wordchain/internal/config"
	"github.com/lox/wordchain/internal/watchdog"
)

// WatchdogCmd reveals expired rounds on a remote server through its API.
type WatchdogCmd struct {
	Signer  string `help:"Principal behind --token; without one, expired rounds are only reported"`
	Answers string `help:"SQLite answer cache, overriding the config file"`
	Once    bool   `help:"Scan once and exit"`
}

func (c *WatchdogCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	logger, err := g.logger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	ctx := shared.SetupSignalHandler(logger)
	clock := quartz.NewReal()

	path := cfg.Answers.Path
	if c.Answers != "" {
		path = c.Answers
	}
	var source watchdog.AnswerSource = answers.NewMemory()
	if path != "" {
		db, err := answers.Open(path)
		if err != nil {
			return fmt.Errorf("open answer cache: %w", err)
		}
		defer db.Close()
		source = db
	}

	signer := c.Signer
	if signer == "" {
		signer = cfg.Watchdog.Signer
	}
	if g.Token == "" {
		signer = ""
	}

	api := g.client(logger, client.WithClock(clock))
	waitCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()
	if err := api.WaitForHealthy(waitCtx, 250*time.Millisecond); err != nil {
		return fmt.Errorf("server %s is not healthy: %w", api.BaseURL(), err)
	}

	wd := watchdog.New(watchdog.Config{
		Interval:    config.Duration(cfg.Watchdog.Interval),
		Window:      cfg.Watchdog.Window,
		CallTimeout: config.Duration(cfg.Watchdog.CallTimeout),
		Signer:      signer,
	}, api, source, logger, clock)

	if !c.Once {
		return wd.Run(ctx)
	}
	report, err := wd.Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s height %d, checked %d, expired %d, settled %d, pending %d, failed %d\n",
		label("Scan"), report.Height, report.Checked, len(report.Expired),
		len(report.Settled), len(report.Pending), len(report.Failed))
	for id, err := range report.Failed {
		fmt.Printf("  %s round %d: %v\n", warnStyle.Render("failed"), id, err)
	}
	return nil
}
