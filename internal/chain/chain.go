// Package chain provides the block height source rounds are timed against.
// Heights only move forward.
package chain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// DefaultBlockInterval approximates the block time of the original ledger.
const DefaultBlockInterval = 10 * time.Minute

// Local is an in-process chain that produces a block every interval.
type Local struct {
	height   atomic.Uint64
	interval time.Duration
	clock    quartz.Clock
	logger   *log.Logger
}

// NewLocal returns a chain starting at start.
func NewLocal(start uint64, interval time.Duration, clock quartz.Clock, logger *log.Logger) *Local {
	if interval <= 0 {
		interval = DefaultBlockInterval
	}
	c := &Local{
		interval: interval,
		clock:    clock,
		logger:   logger.WithPrefix("chain"),
	}
	c.height.Store(start)
	return c
}

// Height returns the current block height.
func (c *Local) Height() uint64 {
	return c.height.Load()
}

// Advance mines n blocks immediately and returns the new height.
func (c *Local) Advance(n uint64) uint64 {
	return c.height.Add(n)
}

// Interval returns the block interval.
func (c *Local) Interval() time.Duration {
	return c.interval
}

// Run mines one block per interval until ctx is done.
func (c *Local) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval, "chain", "block")
	defer ticker.Stop()

	c.logger.Info("Chain started", "height", c.Height(), "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Chain stopped", "height", c.Height())
			return nil
		case <-ticker.C:
			h := c.Advance(1)
			c.logger.Debug("Block mined", "height", h)
		}
	}
}
