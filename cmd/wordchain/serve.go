package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wordchain/cmd/wordchain/shared"
	"github.com/lox/wordchain/internal/answers"
	"github.com/lox/wordchain/internal/auth"
	"github.com/lox/wordchain/internal/chain"
	"github.com/lox/wordchain/internal/config"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/lifecycle"
	"github.com/lox/wordchain/internal/server"
	"github.com/lox/wordchain/internal/settlement"
	"github.com/lox/wordchain/internal/watchdog"
)

const shutdownTimeout = 5 * time.Second

// ServeCmd runs the ledger, local chain, HTTP API and in-process watchdog.
type ServeCmd struct {
	Addr       string `help:"Listen address, overriding the config file"`
	NoWatchdog bool   `name:"no-watchdog" help:"Do not run the in-process watchdog"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger, err := g.logger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	ctx := shared.SetupSignalHandler(logger)
	clock := quartz.NewReal()

	blocks := chain.NewLocal(cfg.Chain.StartHeight, config.Duration(cfg.Chain.BlockInterval), clock, logger)
	store, height, err := ledger.Load(cfg.Server.Snapshot, cfg.GameConfig(), blocks, logger)
	if err != nil {
		return err
	}
	if height > blocks.Height() {
		blocks.Advance(height - blocks.Height())
	}

	cache, closeCache, err := openAnswers(cfg.Answers.Path, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	engine := settlement.NewEngine(store, logger)
	addr := cfg.GetServerAddress()
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := server.NewServer(addr, server.Deps{
		Store:     store,
		Lifecycle: lifecycle.NewManager(store, cache, logger),
		Engine:    engine,
		Auth:      validator(cfg, logger),
	}, logger)

	logger.Info("Starting wordchain",
		"addr", addr,
		"admin", cfg.Game.Admin,
		"height", blocks.Height(),
		"entry_fee", store.Config().EntryFee,
		"treasury_fee_percent", store.Config().TreasuryFeePercent,
		"round_duration", store.Config().RoundDuration)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return blocks.Run(gctx) })
	group.Go(srv.Start)
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server...")
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return snapshotLoop(gctx, store, cfg.Server.Snapshot, config.Duration(cfg.Server.SnapshotInterval), clock, logger)
	})

	if cfg.WatchdogEnabled() && !c.NoWatchdog {
		signer := cfg.Watchdog.Signer
		if signer == "" {
			signer = cfg.Game.Admin
		}
		wd := watchdog.New(watchdog.Config{
			Interval:    config.Duration(cfg.Watchdog.Interval),
			Window:      cfg.Watchdog.Window,
			CallTimeout: config.Duration(cfg.Watchdog.CallTimeout),
			Signer:      signer,
		}, watchdog.Local{Store: store, Engine: engine}, cache, logger, clock)
		group.Go(func() error { return wd.Run(gctx) })
	}

	runErr := group.Wait()
	if err := store.Save(cfg.Server.Snapshot); err != nil {
		logger.Error("Final snapshot failed", "error", err)
		return errors.Join(runErr, err)
	}
	logger.Info("Ledger saved", "path", cfg.Server.Snapshot)
	return runErr
}

// snapshotLoop saves the ledger every interval until ctx ends.
func snapshotLoop(ctx context.Context, store *ledger.Store, path string, interval time.Duration, clock quartz.Clock, logger *log.Logger) error {
	ticker := clock.NewTicker(interval, "snapshot")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := store.Save(path); err != nil {
				logger.Error("Snapshot failed", "path", path, "error", err)
				continue
			}
			logger.Debug("Snapshot written", "path", path)
		}
	}
}

// openAnswers opens the SQLite answer cache, or an in-memory one when no
// path is configured.
func openAnswers(path string, logger *log.Logger) (answers.Store, func(), error) {
	if path == "" {
		logger.Warn("Answer cache is in memory; stored answers are lost on restart")
		return answers.NewMemory(), func() {}, nil
	}
	db, err := answers.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open answer cache: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}

// validator assembles the token validators from config. Static identities
// are consulted first.
func validator(cfg *config.Config, logger *log.Logger) auth.Validator {
	if cfg.Auth.Insecure {
		logger.Warn("Insecure auth enabled: any token is accepted as its own principal")
		return auth.Insecure{}
	}
	validators := auth.Chain{auth.NewStatic(cfg.Tokens())}
	if cfg.Auth.URL != "" {
		validators = append(validators, auth.NewHTTPValidator(cfg.Auth.URL, cfg.Auth.AdminSecret, config.Duration(cfg.Auth.Timeout)))
	}
	return validators
}
