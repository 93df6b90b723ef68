package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/lifecycle"
	"github.com/lox/wordchain/internal/server"
	"github.com/lox/wordchain/internal/settlement"
)

type RoundCmd struct {
	New    RoundNewCmd    `cmd:"" help:"Prepare a round and print its commitment"`
	Show   RoundShowCmd   `cmd:"" help:"Show a round (the current one by default)"`
	List   RoundListCmd   `cmd:"" help:"List recent rounds"`
	Reveal RoundRevealCmd `cmd:"" help:"Reveal the answer of an expired round"`
	Watch  RoundWatchCmd  `cmd:"" help:"Follow round activity as it happens"`
}

// RoundNewCmd builds a round interactively or from flags.
type RoundNewCmd struct {
	Word    string   `help:"Vocabulary word"`
	Options []string `name:"option" sep:"none" help:"Answer option, repeat four times"`
	Correct uint8    `help:"Correct option number (1-4)"`
	Submit  bool     `help:"Create the round on the server and store the answer there"`
}

// roundPlan is a fully specified round ready to be created.
type roundPlan struct {
	Word       string
	Options    [ledger.NumOptions]string
	Correct    uint8
	Commitment commitment.Digest
}

func (p roundPlan) Answer() string {
	return p.Options[p.Correct-1]
}

func newRoundPlan(word string, options []string, correct uint8) (roundPlan, error) {
	opts, err := ledger.OptionsFromSlice(options)
	if err != nil {
		return roundPlan{}, err
	}
	if !ledger.ValidOption(correct) {
		return roundPlan{}, fmt.Errorf("%w: correct option must be between 1 and %d", ledger.ErrInvalidOption, ledger.NumOptions)
	}
	req := ledger.CreateRoundRequest{
		Word:       word,
		Options:    opts,
		Commitment: commitment.Commit(word, opts[correct-1]),
	}
	if err := req.Validate(); err != nil {
		return roundPlan{}, err
	}
	return roundPlan{Word: word, Options: opts, Correct: correct, Commitment: req.Commitment}, nil
}

func (c *RoundNewCmd) Run(g *Globals) error {
	if err := c.prompt(); err != nil {
		return err
	}
	plan, err := newRoundPlan(c.Word, c.Options, c.Correct)
	if err != nil {
		return err
	}
	fmt.Println(renderPlan(plan))

	if !c.Submit {
		return nil
	}
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	res, err := g.client(logger).CreateRound(context.Background(), createRequest(plan))
	if err != nil {
		return err
	}
	fmt.Printf("%s round %d created (tx %s)\n", label("Submitted"), res.Result.RoundID, res.TxID)
	return nil
}

func createRequest(p roundPlan) server.CreateRoundRequest {
	return server.CreateRoundRequest{
		Word:       p.Word,
		Options:    p.Options[:],
		Commitment: p.Commitment.String(),
		Answer:     p.Answer(),
		Option:     p.Correct,
	}
}

func renderPlan(p roundPlan) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Round summary") + "\n")
	fmt.Fprintf(&b, "%s %q\n", label("Word"), p.Word)
	b.WriteString(label("Options") + "\n")
	for i, opt := range p.Options {
		line := fmt.Sprintf("  %d. %s", i+1, opt)
		if uint8(i+1) == p.Correct {
			line = correctStyle.Render(line + "  (correct)")
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "%s %s\n\n", label("Commitment"), codeStyle.Render(p.Commitment.String()))

	start := createRequest(p)
	start.Answer, start.Option = "", 0
	b.WriteString(label("start-round (POST /v1/rounds)") + "\n")
	b.WriteString(boxStyle.Render(prettyJSON(start)) + "\n")

	b.WriteString(label("reveal-answer (POST /v1/rounds/{id}/reveal)") + "\n")
	b.WriteString(boxStyle.Render(prettyJSON(server.RevealRequest{Word: p.Word, Answer: p.Answer(), Option: p.Correct})) + "\n")
	b.WriteString(warnStyle.Render("Keep the answer and option secret until the round ends."))
	return b.String()
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

type RoundShowCmd struct {
	ID uint64 `arg:"" optional:"" help:"Round id (defaults to the current round)"`
}

func (c *RoundShowCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	api := g.client(logger)
	ctx := context.Background()

	var round ledger.Round
	if c.ID == 0 {
		round, err = api.CurrentRound(ctx)
	} else {
		round, err = api.Round(ctx, c.ID)
	}
	if err != nil {
		return err
	}
	height, err := api.Height(ctx)
	if err != nil {
		return err
	}
	participants, err := api.Participants(ctx, round.ID)
	if err != nil {
		return err
	}
	fmt.Println(renderRound(round, height, participants))
	return nil
}

func renderRound(r ledger.Round, height uint64, participants []string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Round %d: %s", r.ID, r.Word)) + "\n")
	for i, opt := range r.Options {
		line := fmt.Sprintf("  %d. %s", i+1, opt)
		if r.Revealed && uint8(i+1) == r.CorrectOption {
			line = correctStyle.Render(line + "  (correct)")
		}
		b.WriteString(line + "\n")
	}
	phase := lifecycle.PhaseOf(r, height)
	fmt.Fprintf(&b, "%s %s\n", label("Phase"), phase)
	if phase == lifecycle.PhaseCreated {
		fmt.Fprintf(&b, "%s %d blocks (reveal at %d)\n", label("Remaining"), r.RevealHeight-height, r.RevealHeight)
	}
	fmt.Fprintf(&b, "%s %d  %s %d\n", label("Pool"), r.Pool, label("Entry fee"), r.EntryFee)
	fmt.Fprintf(&b, "%s %d %s\n", label("Players"), r.ParticipantCount, dimStyle.Render(strings.Join(participants, ", ")))
	fmt.Fprintf(&b, "%s %s", label("Commitment"), codeStyle.Render(r.Commitment.String()))
	return b.String()
}

type RoundListCmd struct {
	Limit int `default:"10" help:"Number of rounds"`
}

func (c *RoundListCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	api := g.client(logger)
	ctx := context.Background()
	rounds, err := api.Rounds(ctx, c.Limit)
	if err != nil {
		return err
	}
	height, err := api.Height(ctx)
	if err != nil {
		return err
	}
	fmt.Println(roundTable(rounds, height))
	return nil
}

type RoundRevealCmd struct {
	ID     uint64 `arg:"" help:"Round id"`
	Word   string `required:"" help:"Round word"`
	Answer string `required:"" help:"Correct answer text"`
	Option uint8  `required:"" help:"Correct option number"`
}

func (c *RoundRevealCmd) Run(g *Globals) error {
	logger, err := g.logger("")
	if err != nil {
		return err
	}
	api := g.client(logger)
	res, err := api.Reveal(context.Background(), settlement.RevealRequest{
		RoundID: c.ID,
		Word:    c.Word,
		Answer:  c.Answer,
		Option:  c.Option,
	})
	if err != nil {
		return err
	}
	lines := []string{
		headerStyle.Render(fmt.Sprintf("Round %d settled", res.RoundID)),
		fmt.Sprintf("%s %d", label("Correct option"), res.CorrectOption),
		fmt.Sprintf("%s %s", label("Winners"), strings.Join(res.Winners, ", ")),
		fmt.Sprintf("%s %d each", label("Share"), res.PerWinnerShare),
		fmt.Sprintf("%s %d (dust %d)", label("Treasury"), res.TreasuryCut, res.Dust),
	}
	fmt.Println(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return nil
}
