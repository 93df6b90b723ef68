package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/wordchain/cmd/wordchain/shared"
	"github.com/lox/wordchain/internal/client"
	"github.com/lox/wordchain/internal/server"
)

// RoundWatchCmd follows the server's event stream and prints round activity.
type RoundWatchCmd struct {
	Retry time.Duration `default:"2s" help:"Delay before reconnecting when the server is unavailable"`
}

func (c *RoundWatchCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	ctx := shared.SetupSignalHandler(logger)
	w := &watcher{
		api:    g.client(logger),
		clock:  quartz.NewReal(),
		retry:  c.Retry,
		out:    os.Stdout,
		logger: logger.WithPrefix("watch"),
	}
	if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var watchedEvents = []server.MessageType{
	server.MessageTypeRoundCreated,
	server.MessageTypeGuessSubmitted,
	server.MessageTypeRoundSettled,
	server.MessageTypeConfigChanged,
}

type watcher struct {
	api    *client.Client
	clock  quartz.Clock
	retry  time.Duration
	out    io.Writer
	logger *log.Logger
}

// run keeps a stream open until ctx ends. Losing the server is retried;
// any other subscribe failure, such as a rejected token, is returned.
func (w *watcher) run(ctx context.Context) error {
	for {
		stream, err := w.api.Subscribe(ctx)
		switch {
		case err == nil:
			w.follow(ctx, stream)
		case client.IsUnavailable(err):
			w.logger.Warn("Server unavailable, retrying", "error", err, "retry", w.retry)
		default:
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := w.clock.NewTimer(w.retry, "watch", "retry")
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// follow prints events until the stream or ctx ends. Handlers run on the
// stream's read loop, one at a time.
func (w *watcher) follow(ctx context.Context, stream *client.Stream) {
	defer stream.Close()
	for _, typ := range watchedEvents {
		stream.On(typ, func(m *server.Message) {
			if line, ok := renderEvent(m); ok {
				fmt.Fprintln(w.out, line)
			}
		})
	}
	fmt.Fprintf(w.out, "%s %s\n", label("Watching"), dimStyle.Render(w.api.BaseURL()))
	select {
	case <-ctx.Done():
	case <-stream.Done():
		w.logger.Warn("Event stream closed")
	}
}

// renderEvent formats a broadcast message. Unknown or undecodable messages
// are skipped.
func renderEvent(m *server.Message) (string, bool) {
	switch m.Type {
	case server.MessageTypeRoundCreated:
		var d server.RoundCreatedData
		if json.Unmarshal(m.Data, &d) != nil {
			return "", false
		}
		r := d.Round
		return fmt.Sprintf("%s reveal at height %d, entry fee %d",
			headerStyle.Render(fmt.Sprintf("Round %d: %s", r.ID, r.Word)), r.RevealHeight, r.EntryFee), true

	case server.MessageTypeGuessSubmitted:
		var d server.GuessSubmittedData
		if json.Unmarshal(m.Data, &d) != nil {
			return "", false
		}
		return fmt.Sprintf("%s %s joined round %d %s", label("Guess"), d.Player, d.RoundID,
			dimStyle.Render(fmt.Sprintf("(%d players, pool %d)", d.ParticipantCount, d.Pool))), true

	case server.MessageTypeRoundSettled:
		var d server.RoundSettledData
		if json.Unmarshal(m.Data, &d) != nil {
			return "", false
		}
		winners := "none"
		if len(d.Result.Winners) > 0 {
			winners = strings.Join(d.Result.Winners, ", ")
		}
		return fmt.Sprintf("%s option %s correct, winners %s, %d each %s",
			label(fmt.Sprintf("Round %d settled", d.Round.ID)),
			correctStyle.Render(fmt.Sprintf("%d", d.Result.CorrectOption)),
			winners, d.Result.PerWinnerShare,
			dimStyle.Render(fmt.Sprintf("(treasury %d, dust %d)", d.Result.TreasuryCut, d.Result.Dust))), true

	case server.MessageTypeConfigChanged:
		var d server.ConfigChangedData
		if json.Unmarshal(m.Data, &d) != nil {
			return "", false
		}
		return fmt.Sprintf("%s entry fee %d, treasury %d%%, round duration %d blocks", label("Config"),
			d.Config.EntryFee, d.Config.TreasuryFeePercent, d.Config.RoundDuration), true
	}
	return "", false
}
