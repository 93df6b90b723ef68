// Package watchdog settles rounds that have passed their reveal height but
// were never revealed. It is the liveness backstop for absent operators.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/wordchain/internal/answers"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/settlement"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultWindow      = 20
	DefaultCallTimeout = 10 * time.Second
)

// ErrScanInFlight is returned by Scan when another scan is still running.
var ErrScanInFlight = errors.New("watchdog: scan already in flight")

// Config controls the watchdog.
type Config struct {
	Interval    time.Duration
	Window      uint64
	CallTimeout time.Duration
	// Signer is the identity reveals are submitted as. Without one, expired
	// rounds are only reported.
	Signer string
}

// DefaultConfig returns the standard polling configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		Window:      DefaultWindow,
		CallTimeout: DefaultCallTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Ledger is what the watchdog reads and writes. It is implemented
// in-process by Local and over HTTP by client.Client.
type Ledger interface {
	Height(ctx context.Context) (uint64, error)
	CurrentRoundID(ctx context.Context) (uint64, error)
	Round(ctx context.Context, id uint64) (ledger.Round, error)
	Guesses(ctx context.Context, roundID uint64) ([]ledger.Guess, error)
	Reveal(ctx context.Context, req settlement.RevealRequest) (settlement.Result, error)
}

// AnswerSource provides operator-stored answers.
type AnswerSource interface {
	Get(ctx context.Context, roundID uint64) (answers.Answer, error)
}

// Source records how a round's answer was chosen.
type Source string

const (
	SourceStored    Source = "stored"
	SourcePlurality Source = "plurality"
	SourceDefault   Source = "default"
)

// ScanReport summarizes one scan.
type ScanReport struct {
	Height         uint64
	CurrentRoundID uint64
	Checked        int
	Expired        []uint64
	Settled        []uint64
	Pending        []uint64
	Failed         map[uint64]error
	Sources        map[uint64]Source
}

// Watchdog polls the ledger for expired, unrevealed rounds.
type Watchdog struct {
	cfg      Config
	ledger   Ledger
	answers  AnswerSource
	logger   *log.Logger
	clock    quartz.Clock
	scanning atomic.Bool
}

// New creates a watchdog. answers may be nil.
func New(cfg Config, l Ledger, answers AnswerSource, logger *log.Logger, clock quartz.Clock) *Watchdog {
	return &Watchdog{
		cfg:     cfg.withDefaults(),
		ledger:  l,
		answers: answers,
		logger:  logger.WithPrefix("watchdog"),
		clock:   clock,
	}
}

// Run scans immediately and then every interval until ctx is cancelled. A
// scan that is running when ctx is cancelled is allowed to finish.
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("Watchdog started",
		"interval", w.cfg.Interval,
		"window", w.cfg.Window,
		"signer", w.cfg.Signer != "")

	ticker := w.clock.NewTicker(w.cfg.Interval, "watchdog", "scan")
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog stopped")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	report, err := w.Scan(context.WithoutCancel(ctx))
	if err != nil {
		w.logger.Warn("Scan failed", "error", err)
		return
	}
	if len(report.Expired) > 0 {
		w.logger.Info("Scan complete",
			"height", report.Height,
			"checked", report.Checked,
			"expired", len(report.Expired),
			"settled", len(report.Settled),
			"pending", len(report.Pending),
			"failed", len(report.Failed))
	}
}

// Scan checks the most recent rounds once and settles the expired ones.
// Per-round failures are collected in the report; only failing to read the
// chain position is returned as an error.
func (w *Watchdog) Scan(ctx context.Context) (ScanReport, error) {
	if !w.scanning.CompareAndSwap(false, true) {
		return ScanReport{}, ErrScanInFlight
	}
	defer w.scanning.Store(false)

	report := ScanReport{
		Failed:  map[uint64]error{},
		Sources: map[uint64]Source{},
	}

	height, err := within(ctx, w.cfg.CallTimeout, w.ledger.Height)
	if err != nil {
		return report, fmt.Errorf("fetch height: %w", err)
	}
	current, err := within(ctx, w.cfg.CallTimeout, w.ledger.CurrentRoundID)
	if err != nil {
		return report, fmt.Errorf("fetch current round: %w", err)
	}
	report.Height = height
	report.CurrentRoundID = current

	first := uint64(1)
	if current > w.cfg.Window {
		first = current - w.cfg.Window + 1
	}
	for id := first; id <= current && id != 0; id++ {
		round, err := within(ctx, w.cfg.CallTimeout, func(ctx context.Context) (ledger.Round, error) {
			return w.ledger.Round(ctx, id)
		})
		if err != nil {
			w.logger.Warn("Failed to read round", "round", id, "error", err)
			report.Failed[id] = err
			continue
		}
		report.Checked++
		if round.Revealed || !round.Active || !round.Expired(height) {
			continue
		}
		report.Expired = append(report.Expired, id)

		if w.cfg.Signer == "" {
			w.logger.Warn("Expired round needs a reveal but no signer is configured", "round", id, "reveal_height", round.RevealHeight)
			report.Pending = append(report.Pending, id)
			continue
		}

		source, err := w.settle(ctx, round)
		report.Sources[id] = source
		if err != nil {
			w.logger.Error("Failed to settle round", "round", id, "source", source, "error", err)
			report.Failed[id] = err
			continue
		}
		report.Settled = append(report.Settled, id)
	}
	return report, nil
}

func (w *Watchdog) settle(ctx context.Context, round ledger.Round) (Source, error) {
	option, source, err := w.resolve(ctx, round)
	if err != nil {
		return source, err
	}

	req := settlement.RevealRequest{
		RoundID:  round.ID,
		Word:     round.Word,
		Answer:   round.Options[option-1],
		Option:   option,
		Revealer: w.cfg.Signer,
	}
	res, err := within(ctx, w.cfg.CallTimeout, func(ctx context.Context) (settlement.Result, error) {
		return w.ledger.Reveal(ctx, req)
	})
	if err != nil {
		return source, err
	}
	w.logger.Info("Round auto-revealed",
		"round", round.ID,
		"option", option,
		"source", source,
		"winners", len(res.Winners),
		"share", res.PerWinnerShare)
	return source, nil
}

// resolve picks the option to reveal: the stored answer, else the most
// popular guess with ties going to the lowest option, else option 1.
func (w *Watchdog) resolve(ctx context.Context, round ledger.Round) (uint8, Source, error) {
	if w.answers != nil {
		a, err := within(ctx, w.cfg.CallTimeout, func(ctx context.Context) (answers.Answer, error) {
			return w.answers.Get(ctx, round.ID)
		})
		switch {
		case err == nil && ledger.ValidOption(a.Option):
			return a.Option, SourceStored, nil
		case err != nil && !errors.Is(err, answers.ErrNotFound):
			w.logger.Warn("Answer cache unavailable", "round", round.ID, "error", err)
		}
	}

	guesses, err := within(ctx, w.cfg.CallTimeout, func(ctx context.Context) ([]ledger.Guess, error) {
		return w.ledger.Guesses(ctx, round.ID)
	})
	if err != nil {
		return 0, SourcePlurality, err
	}
	if option, ok := Plurality(guesses); ok {
		return option, SourcePlurality, nil
	}
	return 1, SourceDefault, nil
}

// Plurality returns the most guessed option, preferring the lowest option
// on ties. It reports false when there are no valid guesses.
func Plurality(guesses []ledger.Guess) (uint8, bool) {
	var counts [ledger.NumOptions + 1]int
	for _, g := range guesses {
		if ledger.ValidOption(g.Option) {
			counts[g.Option]++
		}
	}
	best := uint8(0)
	for opt := uint8(1); opt <= ledger.NumOptions; opt++ {
		if counts[opt] > counts[best] {
			best = opt
		}
	}
	return best, best != 0
}

// within runs fn with its own deadline. Hitting that deadline, as opposed
// to the parent being cancelled, means the remote did not answer.
func within[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return v, fmt.Errorf("%w: %v", ledger.ErrRemoteUnavailable, err)
	}
	return v, err
}
