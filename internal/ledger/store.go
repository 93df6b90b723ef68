// Package ledger is the authoritative record of rounds, guesses, player
// statistics, balances and the game configuration. Every state transition
// is validated and applied inside a single critical section.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Heights reports the current block height.
type Heights interface {
	Height() uint64
}

// HeightFunc adapts a function to Heights.
type HeightFunc func() uint64

func (f HeightFunc) Height() uint64 { return f() }

// Store owns every ledger record. Mutations take the write lock; reads take
// the read lock and return copies.
type Store struct {
	mu      sync.RWMutex
	st      *state
	heights Heights
	logger  *log.Logger
	events  EventBus

	// outbox holds committed events in commit order until a publisher
	// delivers them. outMu guards it; pubMu is held by the one goroutine
	// currently delivering.
	outMu  sync.Mutex
	outbox []Event
	pubMu  sync.Mutex
}

type state struct {
	Config   GameConfig                  `json:"config"`
	Rounds   map[uint64]*Round           `json:"rounds"`
	Guesses  map[uint64]map[string]Guess `json:"guesses"`
	Joined   map[uint64][]string         `json:"joined"`
	Stats    map[string]PlayerStats      `json:"stats"`
	Balances map[string]uint64           `json:"balances"`
	Results  map[uint64]RoundResult      `json:"results"`
}

func newState(cfg GameConfig) *state {
	return &state{
		Config:   cfg,
		Rounds:   map[uint64]*Round{},
		Guesses:  map[uint64]map[string]Guess{},
		Joined:   map[uint64][]string{},
		Stats:    map[string]PlayerStats{},
		Balances: map[string]uint64{},
		Results:  map[uint64]RoundResult{},
	}
}

func (s *state) normalize() {
	if s.Rounds == nil {
		s.Rounds = map[uint64]*Round{}
	}
	if s.Guesses == nil {
		s.Guesses = map[uint64]map[string]Guess{}
	}
	if s.Joined == nil {
		s.Joined = map[uint64][]string{}
	}
	if s.Stats == nil {
		s.Stats = map[string]PlayerStats{}
	}
	if s.Balances == nil {
		s.Balances = map[string]uint64{}
	}
	if s.Results == nil {
		s.Results = map[uint64]RoundResult{}
	}
}

// NewStore creates an empty ledger.
func NewStore(cfg GameConfig, heights Heights, logger *log.Logger) *Store {
	return &Store{
		st:      newState(cfg),
		heights: heights,
		logger:  logger.WithPrefix("ledger"),
	}
}

// Subscribe registers for committed-mutation events.
func (s *Store) Subscribe(sub EventSubscriber) (unsubscribe func()) {
	return s.events.Subscribe(sub)
}

// enqueue appends a committed event. Callers hold the write lock, so the
// outbox is in commit order.
func (s *Store) enqueue(ev Event) {
	s.outMu.Lock()
	s.outbox = append(s.outbox, ev)
	s.outMu.Unlock()
}

// flush delivers queued events in order. If another goroutine is already
// delivering it picks up ours too, which also lets a subscriber mutate the
// store from inside OnEvent without deadlocking.
func (s *Store) flush() {
	for s.pubMu.TryLock() {
		for {
			ev, ok := s.dequeue()
			if !ok {
				break
			}
			s.events.Publish(ev)
		}
		s.pubMu.Unlock()
		if !s.pending() {
			return
		}
	}
}

func (s *Store) dequeue() (Event, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if len(s.outbox) == 0 {
		return nil, false
	}
	ev := s.outbox[0]
	s.outbox[0] = nil
	s.outbox = s.outbox[1:]
	return ev, true
}

func (s *Store) pending() bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return len(s.outbox) > 0
}

// Height returns the current block height.
func (s *Store) Height() uint64 {
	return s.heights.Height()
}

// Config returns the game configuration.
func (s *Store) Config() GameConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Config
}

// CurrentRound returns the round the configuration currently points at.
func (s *Store) CurrentRound() (Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.Rounds[s.st.Config.CurrentRoundID]
	if !ok {
		return Round{}, false
	}
	return *r, true
}

// Round returns a round by id.
func (s *Store) Round(id uint64) (Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.Rounds[id]
	if !ok {
		return Round{}, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	return *r, nil
}

// Guess returns a player's guess for a round.
func (s *Store) Guess(roundID uint64, player string) (Guess, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.st.Guesses[roundID][player]
	return g, ok
}

// Participants returns the players of a round in join order.
func (s *Store) Participants(roundID uint64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	joined := s.st.Joined[roundID]
	out := make([]string, len(joined))
	copy(out, joined)
	return out
}

// Guesses returns every guess of a round in join order.
func (s *Store) Guesses(roundID uint64) []Guess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guessesLocked(roundID)
}

func (s *Store) guessesLocked(roundID uint64) []Guess {
	joined := s.st.Joined[roundID]
	out := make([]Guess, 0, len(joined))
	for _, player := range joined {
		out = append(out, s.st.Guesses[roundID][player])
	}
	return out
}

// PlayerStats returns a player's statistics; unknown players have zero stats.
func (s *Store) PlayerStats(player string) PlayerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Stats[player]
}

// Result returns the settlement record of a revealed round.
func (s *Store) Result(roundID uint64) (RoundResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.st.Results[roundID]
	if !ok {
		return RoundResult{}, false
	}
	res.Winners = append([]string(nil), res.Winners...)
	return res, true
}

// Winners returns the winners of a revealed round, or nil.
func (s *Store) Winners(roundID uint64) []string {
	res, ok := s.Result(roundID)
	if !ok {
		return nil
	}
	return res.Winners
}

// Pool returns a round's accumulated pool, or 0 for unknown rounds.
func (s *Store) Pool(roundID uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.st.Rounds[roundID]; ok {
		return r.Pool
	}
	return 0
}

// Balance returns a player's spendable balance.
func (s *Store) Balance(player string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Balances[player]
}

// CreateRound opens a new round. It does not check for an unsettled current
// round; that is the lifecycle's job.
func (s *Store) CreateRound(req CreateRoundRequest) (uint64, error) {
	s.mu.Lock()

	cfg := s.st.Config
	if req.Creator == "" || req.Creator != cfg.Admin {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %q may not create rounds", ErrUnauthorized, req.Creator)
	}
	if err := req.Validate(); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	height := s.heights.Height()
	revealHeight, err := addChecked(height, cfg.RoundDuration, "reveal height")
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	id, err := addChecked(cfg.CurrentRoundID, 1, "round id")
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	round := &Round{
		ID:           id,
		Word:         req.Word,
		Options:      req.Options,
		Commitment:   req.Commitment,
		StartHeight:  height,
		RevealHeight: revealHeight,
		EntryFee:     cfg.EntryFee,
		Active:       true,
		Creator:      req.Creator,
	}
	s.st.Rounds[id] = round
	s.st.Guesses[id] = map[string]Guess{}
	s.st.Config.CurrentRoundID = id
	s.enqueue(RoundCreatedEvent{Round: *round})
	s.mu.Unlock()

	s.logger.Info("Round created", "round", id, "word_len", len(req.Word), "reveal_height", revealHeight, "entry_fee", cfg.EntryFee)
	s.flush()
	return id, nil
}

// SubmitGuess records a player's answer and collects the round's entry fee
// from the player's balance. Nothing is recorded if any check fails.
func (s *Store) SubmitGuess(roundID uint64, player string, option uint8) error {
	if !ValidOption(option) {
		return fmt.Errorf("%w: %d", ErrInvalidOption, option)
	}
	if strings.TrimSpace(player) == "" {
		return validationf("player is required")
	}

	s.mu.Lock()
	round, ok := s.st.Rounds[roundID]
	height := s.heights.Height()
	if !ok || !round.Open(height) {
		s.mu.Unlock()
		return fmt.Errorf("%w: round %d is not accepting guesses", ErrNoActiveRound, roundID)
	}
	if _, dup := s.st.Guesses[roundID][player]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s in round %d", ErrAlreadyGuessed, player, roundID)
	}
	balance := s.st.Balances[player]
	if balance < round.EntryFee {
		s.mu.Unlock()
		return fmt.Errorf("%w: balance %d, entry fee %d", ErrInsufficientFunds, balance, round.EntryFee)
	}
	pool, err := addChecked(round.Pool, round.EntryFee, "pool")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if round.ParticipantCount == ^uint32(0) {
		s.mu.Unlock()
		return validationf("participant count overflows")
	}

	s.st.Balances[player] = balance - round.EntryFee
	round.Pool = pool
	round.ParticipantCount++
	s.st.Guesses[roundID][player] = Guess{RoundID: roundID, Player: player, Option: option, Height: height}
	s.st.Joined[roundID] = append(s.st.Joined[roundID], player)
	ev := GuessSubmittedEvent{RoundID: roundID, Player: player, Pool: round.Pool, ParticipantCount: round.ParticipantCount}
	s.enqueue(ev)
	s.mu.Unlock()

	s.logger.Debug("Guess recorded", "round", roundID, "player", player, "pool", ev.Pool, "participants", ev.ParticipantCount)
	s.flush()
	return nil
}

// SettleRound applies a settlement. The round, its guesses and the
// settlement arithmetic are re-validated under the write lock, and stats,
// payouts, treasury and round flags are committed together or not at all.
func (s *Store) SettleRound(roundID uint64, settlement Settlement) (RoundResult, error) {
	s.mu.Lock()
	result, round, err := s.settleLocked(roundID, settlement)
	if err != nil {
		s.mu.Unlock()
		return RoundResult{}, err
	}
	s.enqueue(RoundSettledEvent{Round: round, Result: result})
	s.mu.Unlock()

	s.logger.Info("Round settled",
		"round", roundID,
		"correct_option", result.CorrectOption,
		"winners", len(result.Winners),
		"share", result.PerWinnerShare,
		"treasury_cut", result.TreasuryCut,
		"dust", result.Dust)
	s.flush()
	return result, nil
}

func (s *Store) settleLocked(roundID uint64, settlement Settlement) (RoundResult, Round, error) {
	round, ok := s.st.Rounds[roundID]
	if !ok {
		return RoundResult{}, Round{}, fmt.Errorf("%w: round %d does not exist", ErrRoundNotEnded, roundID)
	}
	if round.Revealed {
		return RoundResult{}, Round{}, fmt.Errorf("%w: round %d", ErrAlreadyRevealed, roundID)
	}
	height := s.heights.Height()
	if !round.Active || !round.Expired(height) {
		return RoundResult{}, Round{}, fmt.Errorf("%w: round %d reveals at height %d, now %d", ErrRoundNotEnded, roundID, round.RevealHeight, height)
	}
	cfg := s.st.Config
	if settlement.Revealer == "" || settlement.Revealer != cfg.Admin {
		return RoundResult{}, Round{}, fmt.Errorf("%w: %q may not reveal", ErrUnauthorized, settlement.Revealer)
	}
	if !ValidOption(settlement.CorrectOption) {
		return RoundResult{}, Round{}, fmt.Errorf("%w: option %d", ErrOptionMismatch, settlement.CorrectOption)
	}

	guesses := s.st.Guesses[roundID]
	if len(settlement.Outcomes) != len(guesses) {
		return RoundResult{}, Round{}, validationf("settlement covers %d players, round has %d", len(settlement.Outcomes), len(guesses))
	}

	var winners []string
	seen := make(map[string]bool, len(guesses))
	stats := make(map[string]PlayerStats, len(guesses))
	balances := make(map[string]uint64, len(guesses))
	var paid uint64
	for _, outcome := range settlement.Outcomes {
		g, ok := guesses[outcome.Player]
		if !ok || seen[outcome.Player] {
			return RoundResult{}, Round{}, validationf("unexpected settlement entry for %q", outcome.Player)
		}
		seen[outcome.Player] = true

		won := g.Option == settlement.CorrectOption
		if outcome.Won != won {
			return RoundResult{}, Round{}, validationf("outcome for %q disagrees with recorded guess", outcome.Player)
		}
		wantPayout := uint64(0)
		if won {
			wantPayout = settlement.PerWinnerShare
			winners = append(winners, outcome.Player)
		}
		if outcome.Payout != wantPayout {
			return RoundResult{}, Round{}, validationf("payout for %q is %d, want %d", outcome.Player, outcome.Payout, wantPayout)
		}

		var err error
		if paid, err = addChecked(paid, outcome.Payout, "payouts"); err != nil {
			return RoundResult{}, Round{}, err
		}
		if stats[outcome.Player], err = s.st.Stats[outcome.Player].Record(won, outcome.Payout, height); err != nil {
			return RoundResult{}, Round{}, err
		}
		if balances[outcome.Player], err = addChecked(s.st.Balances[outcome.Player], outcome.Payout, "balance"); err != nil {
			return RoundResult{}, Round{}, err
		}
	}

	treasuryCredit, err := addChecked(settlement.TreasuryCut, settlement.Dust, "treasury credit")
	if err != nil {
		return RoundResult{}, Round{}, err
	}
	total, err := addChecked(paid, treasuryCredit, "settlement total")
	if err != nil {
		return RoundResult{}, Round{}, err
	}
	if total != round.Pool {
		return RoundResult{}, Round{}, validationf("settlement distributes %d of pool %d", total, round.Pool)
	}
	treasury, err := addChecked(cfg.TreasuryBalance, treasuryCredit, "treasury balance")
	if err != nil {
		return RoundResult{}, Round{}, err
	}

	// Everything validated; apply.
	for player, st := range stats {
		s.st.Stats[player] = st
	}
	for player, bal := range balances {
		s.st.Balances[player] = bal
	}
	s.st.Config.TreasuryBalance = treasury
	round.CorrectOption = settlement.CorrectOption
	round.Revealed = true
	round.Active = false

	result := RoundResult{
		RoundID:        roundID,
		CorrectOption:  settlement.CorrectOption,
		Winners:        winners,
		PerWinnerShare: settlement.PerWinnerShare,
		TreasuryCut:    settlement.TreasuryCut,
		Dust:           settlement.Dust,
		RevealedBy:     settlement.Revealer,
		RevealedAt:     height,
	}
	s.st.Results[roundID] = result

	out := result
	out.Winners = append([]string(nil), winners...)
	return out, *round, nil
}

// SetEntryFee changes the fee charged by rounds created from now on.
func (s *Store) SetEntryFee(caller string, fee uint64) error {
	if fee == 0 {
		return validationf("entry fee must be positive")
	}
	return s.updateConfig(caller, func(cfg *GameConfig) { cfg.EntryFee = fee })
}

// SetTreasuryFeePercent changes the treasury's share of each pool.
func (s *Store) SetTreasuryFeePercent(caller string, percent uint64) error {
	if percent > 100 {
		return validationf("treasury fee percent must be within 0..100, got %d", percent)
	}
	return s.updateConfig(caller, func(cfg *GameConfig) { cfg.TreasuryFeePercent = percent })
}

// SetRoundDuration changes the admission window, in blocks, of new rounds.
func (s *Store) SetRoundDuration(caller string, blocks uint64) error {
	if blocks == 0 {
		return validationf("round duration must be positive")
	}
	return s.updateConfig(caller, func(cfg *GameConfig) { cfg.RoundDuration = blocks })
}

func (s *Store) updateConfig(caller string, apply func(*GameConfig)) error {
	s.mu.Lock()
	if caller == "" || caller != s.st.Config.Admin {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q may not change configuration", ErrUnauthorized, caller)
	}
	apply(&s.st.Config)
	cfg := s.st.Config
	s.enqueue(ConfigChangedEvent{Config: cfg})
	s.mu.Unlock()

	s.logger.Info("Configuration updated", "entry_fee", cfg.EntryFee, "treasury_fee_percent", cfg.TreasuryFeePercent, "round_duration", cfg.RoundDuration)
	s.flush()
	return nil
}

// Mint credits a player's balance. Only the admin may mint.
func (s *Store) Mint(caller, player string, amount uint64) (uint64, error) {
	if strings.TrimSpace(player) == "" {
		return 0, validationf("player is required")
	}
	s.mu.Lock()
	if caller == "" || caller != s.st.Config.Admin {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %q may not mint", ErrUnauthorized, caller)
	}
	balance, err := addChecked(s.st.Balances[player], amount, "balance")
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.st.Balances[player] = balance
	s.enqueue(BalanceCreditedEvent{Player: player, Amount: amount, Balance: balance})
	s.mu.Unlock()

	s.logger.Debug("Balance credited", "player", player, "amount", amount, "balance", balance)
	s.flush()
	return balance, nil
}

// RoundIDs returns the ids of the most recent limit rounds, newest first.
// A non-positive limit returns every round.
func (s *Store) RoundIDs(limit int) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.st.Rounds))
	for id := range s.st.Rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
