package ledger

import (
	"strings"

	"github.com/lox/wordchain/internal/commitment"
)

const (
	// NumOptions is the number of answer options in every round.
	NumOptions = 4

	MaxWordLength   = 50
	MaxOptionLength = 100

	DefaultEntryFee           uint64 = 1_000_000
	DefaultTreasuryFeePercent uint64 = 5
	DefaultRoundDuration      uint64 = 144
)

// Round is a single vocabulary challenge.
type Round struct {
	ID               uint64             `json:"id"`
	Word             string             `json:"word"`
	Options          [NumOptions]string `json:"options"`
	Commitment       commitment.Digest  `json:"commitment"`
	CorrectOption    uint8              `json:"correctOption"` // 0 until revealed
	StartHeight      uint64             `json:"startHeight"`
	RevealHeight     uint64             `json:"revealHeight"`
	EntryFee         uint64             `json:"entryFee"`
	Pool             uint64             `json:"pool"`
	ParticipantCount uint32             `json:"participantCount"`
	Active           bool               `json:"active"`
	Revealed         bool               `json:"revealed"`
	Creator          string             `json:"creator"`
}

// Expired reports whether guesses are no longer admitted at height.
func (r Round) Expired(height uint64) bool {
	return height >= r.RevealHeight
}

// Open reports whether the round still accepts guesses at height.
func (r Round) Open(height uint64) bool {
	return r.Active && !r.Revealed && !r.Expired(height)
}

// Guess is a player's single answer for a round.
type Guess struct {
	RoundID uint64 `json:"roundId"`
	Player  string `json:"player"`
	Option  uint8  `json:"option"`
	Height  uint64 `json:"height"`
}

// PlayerStats accumulates a player's results across settled rounds.
type PlayerStats struct {
	TotalGames     uint64 `json:"totalGames"`
	CorrectGuesses uint64 `json:"correctGuesses"`
	TotalEarned    uint64 `json:"totalEarned"`
	WinStreak      uint64 `json:"winStreak"`
	BestStreak     uint64 `json:"bestStreak"`
	LastPlayed     uint64 `json:"lastPlayed"`
}

// Record returns the stats after one more settled round.
func (s PlayerStats) Record(won bool, payout, height uint64) (PlayerStats, error) {
	s.TotalGames++
	if won {
		earned, err := addChecked(s.TotalEarned, payout, "total earned")
		if err != nil {
			return s, err
		}
		s.CorrectGuesses++
		s.TotalEarned = earned
		s.WinStreak++
		if s.WinStreak > s.BestStreak {
			s.BestStreak = s.WinStreak
		}
	} else {
		s.WinStreak = 0
	}
	s.LastPlayed = height
	return s, nil
}

// GameConfig is the process-wide configuration row. CurrentRoundID doubles
// as the pointer to the current round.
type GameConfig struct {
	Admin              string `json:"admin"`
	EntryFee           uint64 `json:"entryFee"`
	TreasuryFeePercent uint64 `json:"treasuryFeePercent"`
	RoundDuration      uint64 `json:"roundDuration"`
	CurrentRoundID     uint64 `json:"currentRoundId"`
	TreasuryBalance    uint64 `json:"treasuryBalance"`
}

// DefaultGameConfig returns the configuration for a fresh ledger.
func DefaultGameConfig(admin string) GameConfig {
	return GameConfig{
		Admin:              admin,
		EntryFee:           DefaultEntryFee,
		TreasuryFeePercent: DefaultTreasuryFeePercent,
		RoundDuration:      DefaultRoundDuration,
	}
}

// CreateRoundRequest carries the inputs of a new round.
type CreateRoundRequest struct {
	Word       string
	Options    [NumOptions]string
	Commitment commitment.Digest
	Creator    string
}

// Validate checks the bounded-ASCII constraints on the request.
func (r CreateRoundRequest) Validate() error {
	if err := validateText("word", r.Word, MaxWordLength); err != nil {
		return err
	}
	for i, opt := range r.Options {
		if err := validateText("option "+string(rune('1'+i)), opt, MaxOptionLength); err != nil {
			return err
		}
	}
	if r.Commitment.IsZero() {
		return validationf("commitment is required")
	}
	return nil
}

// OptionsFromSlice converts a slice of options, enforcing the option count.
func OptionsFromSlice(opts []string) ([NumOptions]string, error) {
	var out [NumOptions]string
	if len(opts) != NumOptions {
		return out, validationf("exactly %d options required, got %d", NumOptions, len(opts))
	}
	copy(out[:], opts)
	return out, nil
}

func validateText(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return validationf("%s is required", field)
	}
	if len(value) > maxLen {
		return validationf("%s exceeds %d characters", field, maxLen)
	}
	for i := 0; i < len(value); i++ {
		if value[i] > 0x7f {
			return validationf("%s must be ASCII", field)
		}
	}
	return nil
}

// ValidOption reports whether option is one of 1..NumOptions.
func ValidOption(option uint8) bool {
	return option >= 1 && option <= NumOptions
}

// PlayerOutcome is one guesser's result in a settlement.
type PlayerOutcome struct {
	Player string `json:"player"`
	Won    bool   `json:"won"`
	Payout uint64 `json:"payout"`
}

// Settlement is the fully computed reveal transition for one round. The
// store checks it against its own records before applying it.
type Settlement struct {
	CorrectOption  uint8           `json:"correctOption"`
	Revealer       string          `json:"revealer"`
	PerWinnerShare uint64          `json:"perWinnerShare"`
	TreasuryCut    uint64          `json:"treasuryCut"`
	Dust           uint64          `json:"dust"`
	Outcomes       []PlayerOutcome `json:"outcomes"`
}

// RoundResult is what the store keeps about a settled round.
type RoundResult struct {
	RoundID        uint64   `json:"roundId"`
	CorrectOption  uint8    `json:"correctOption"`
	Winners        []string `json:"winners"`
	PerWinnerShare uint64   `json:"perWinnerShare"`
	TreasuryCut    uint64   `json:"treasuryCut"`
	Dust           uint64   `json:"dust"`
	RevealedBy     string   `json:"revealedBy"`
	RevealedAt     uint64   `json:"revealedAt"`
}

// TreasuryCredit is everything from the pool that did not go to winners.
func (r RoundResult) TreasuryCredit() uint64 {
	return r.TreasuryCut + r.Dust
}
