package ledger

import (
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wordchain/internal/commitment"
)

const admin = "ST1ADMIN"

var testOptions = [NumOptions]string{"Lasting a short time", "Everlasting", "Painful", "Colorful"}

type testHeights struct{ h atomic.Uint64 }

func (t *testHeights) Height() uint64    { return t.h.Load() }
func (t *testHeights) advance(n uint64) { t.h.Add(n) }

func newTestStore(t *testing.T) (*Store, *testHeights) {
	t.Helper()
	heights := &testHeights{}
	heights.h.Store(100)
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	return NewStore(DefaultGameConfig(admin), heights, logger), heights
}

func createTestRound(t *testing.T, s *Store) uint64 {
	t.Helper()
	id, err := s.CreateRound(CreateRoundRequest{
		Word:       "ephemeral",
		Options:    testOptions,
		Commitment: commitment.Commit("ephemeral", testOptions[0]),
		Creator:    admin,
	})
	require.NoError(t, err)
	return id
}

func fund(t *testing.T, s *Store, players ...string) {
	t.Helper()
	for _, p := range players {
		_, err := s.Mint(admin, p, 10*DefaultEntryFee)
		require.NoError(t, err)
	}
}

func TestCreateRound(t *testing.T) {
	s, _ := newTestStore(t)

	id := createTestRound(t, s)
	assert.Equal(t, uint64(1), id)

	r, err := s.Round(id)
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.False(t, r.Revealed)
	assert.Zero(t, r.Pool)
	assert.Zero(t, r.ParticipantCount)
	assert.Equal(t, uint64(100), r.StartHeight)
	assert.Equal(t, uint64(100+DefaultRoundDuration), r.RevealHeight)
	assert.Equal(t, DefaultEntryFee, r.EntryFee)
	assert.Equal(t, admin, r.Creator)

	cur, ok := s.CurrentRound()
	require.True(t, ok)
	assert.Equal(t, id, cur.ID)
	assert.Equal(t, id, s.Config().CurrentRoundID)

	// Ids are monotonic.
	id2 := createTestRound(t, s)
	assert.Equal(t, uint64(2), id2)
}

func TestCreateRoundRejectsNonAdmin(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateRound(CreateRoundRequest{
		Word:       "test",
		Options:    [NumOptions]string{"A", "B", "C", "D"},
		Commitment: commitment.Commit("test", "A"),
		Creator:    "ST2PLAYER",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, s.Config().CurrentRoundID)
}

func TestCreateRoundValidation(t *testing.T) {
	valid := CreateRoundRequest{
		Word:       "test",
		Options:    [NumOptions]string{"A", "B", "C", "D"},
		Commitment: commitment.Commit("test", "A"),
		Creator:    admin,
	}

	tests := []struct {
		name   string
		mutate func(*CreateRoundRequest)
	}{
		{"empty word", func(r *CreateRoundRequest) { r.Word = "" }},
		{"blank word", func(r *CreateRoundRequest) { r.Word = "   " }},
		{"long word", func(r *CreateRoundRequest) { r.Word = strings.Repeat("a", MaxWordLength+1) }},
		{"non-ascii word", func(r *CreateRoundRequest) { r.Word = "café" }},
		{"empty option", func(r *CreateRoundRequest) { r.Options[2] = "" }},
		{"long option", func(r *CreateRoundRequest) { r.Options[3] = strings.Repeat("b", MaxOptionLength+1) }},
		{"non-ascii option", func(r *CreateRoundRequest) { r.Options[0] = "naïve" }},
		{"missing commitment", func(r *CreateRoundRequest) { r.Commitment = commitment.Digest{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			req := valid
			tt.mutate(&req)
			_, err := s.CreateRound(req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, s.Config().CurrentRoundID)
		})
	}

	t.Run("bounds are inclusive", func(t *testing.T) {
		s, _ := newTestStore(t)
		req := valid
		req.Word = strings.Repeat("w", MaxWordLength)
		req.Options[0] = strings.Repeat("o", MaxOptionLength)
		_, err := s.CreateRound(req)
		assert.NoError(t, err)
	})
}

func TestOptionsFromSlice(t *testing.T) {
	_, err := OptionsFromSlice([]string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrValidation)

	opts, err := OptionsFromSlice([]string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, [NumOptions]string{"a", "b", "c", "d"}, opts)
}

func TestSubmitGuess(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)
	fund(t, s, "alice", "bob")

	require.NoError(t, s.SubmitGuess(id, "alice", 1))
	require.NoError(t, s.SubmitGuess(id, "bob", 2))

	r, err := s.Round(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), r.ParticipantCount)
	assert.Equal(t, 2*DefaultEntryFee, r.Pool)
	assert.Equal(t, 2*DefaultEntryFee, s.Pool(id))
	assert.Equal(t, []string{"alice", "bob"}, s.Participants(id))
	assert.Equal(t, 9*DefaultEntryFee, s.Balance("alice"))

	g, ok := s.Guess(id, "bob")
	require.True(t, ok)
	assert.Equal(t, uint8(2), g.Option)
	assert.Equal(t, uint64(100), g.Height)
}

func TestSubmitGuessExactlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)
	fund(t, s, "alice")

	require.NoError(t, s.SubmitGuess(id, "alice", 1))
	for option := uint8(1); option <= NumOptions; option++ {
		err := s.SubmitGuess(id, "alice", option)
		assert.ErrorIs(t, err, ErrAlreadyGuessed)
	}

	r, _ := s.Round(id)
	assert.Equal(t, uint32(1), r.ParticipantCount)
	assert.Equal(t, DefaultEntryFee, r.Pool)
	assert.Equal(t, 9*DefaultEntryFee, s.Balance("alice"))
}

func TestSubmitGuessInvalidOptionInAnyState(t *testing.T) {
	s, heights := newTestStore(t)
	fund(t, s, "alice")

	// No round at all.
	for _, option := range []uint8{0, 5, 255} {
		assert.ErrorIs(t, s.SubmitGuess(1, "alice", option), ErrInvalidOption)
	}

	id := createTestRound(t, s)
	for _, option := range []uint8{0, 5, 255} {
		assert.ErrorIs(t, s.SubmitGuess(id, "alice", option), ErrInvalidOption)
	}

	require.NoError(t, s.SubmitGuess(id, "alice", 1))
	assert.ErrorIs(t, s.SubmitGuess(id, "alice", 7), ErrInvalidOption)

	heights.advance(DefaultRoundDuration)
	assert.ErrorIs(t, s.SubmitGuess(id, "alice", 0), ErrInvalidOption)
}

func TestSubmitGuessNoActiveRound(t *testing.T) {
	s, heights := newTestStore(t)
	fund(t, s, "alice", "bob")

	assert.ErrorIs(t, s.SubmitGuess(1, "alice", 1), ErrNoActiveRound)

	id := createTestRound(t, s)
	heights.advance(DefaultRoundDuration - 1)
	require.NoError(t, s.SubmitGuess(id, "alice", 1), "last block before expiry admits guesses")

	heights.advance(1)
	assert.ErrorIs(t, s.SubmitGuess(id, "bob", 1), ErrNoActiveRound)
}

func TestSubmitGuessInsufficientFundsRecordsNothing(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)
	_, err := s.Mint(admin, "carol", DefaultEntryFee-1)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SubmitGuess(id, "carol", 1), ErrInsufficientFunds)
	assert.ErrorIs(t, s.SubmitGuess(id, "nobody", 1), ErrInsufficientFunds)

	_, ok := s.Guess(id, "carol")
	assert.False(t, ok)
	r, _ := s.Round(id)
	assert.Zero(t, r.Pool)
	assert.Zero(t, r.ParticipantCount)
	assert.Equal(t, DefaultEntryFee-1, s.Balance("carol"))
}

func TestEntryFeeFixedPerRound(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)
	fund(t, s, "alice", "bob")

	require.NoError(t, s.SubmitGuess(id, "alice", 1))
	require.NoError(t, s.SetEntryFee(admin, 2*DefaultEntryFee))
	require.NoError(t, s.SubmitGuess(id, "bob", 1))

	r, _ := s.Round(id)
	assert.Equal(t, 2*DefaultEntryFee, r.Pool, "fee change applies to new rounds only")
}

func TestConfigAdminOnly(t *testing.T) {
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.SetEntryFee("ST2PLAYER", 5), ErrUnauthorized)
	assert.ErrorIs(t, s.SetTreasuryFeePercent("ST2PLAYER", 5), ErrUnauthorized)
	assert.ErrorIs(t, s.SetRoundDuration("ST2PLAYER", 5), ErrUnauthorized)
	_, err := s.Mint("ST2PLAYER", "ST2PLAYER", 5)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.ErrorIs(t, s.SetEntryFee(admin, 0), ErrValidation)
	assert.ErrorIs(t, s.SetTreasuryFeePercent(admin, 101), ErrValidation)
	assert.ErrorIs(t, s.SetRoundDuration(admin, 0), ErrValidation)

	require.NoError(t, s.SetEntryFee(admin, 2_000_000))
	require.NoError(t, s.SetTreasuryFeePercent(admin, 10))
	require.NoError(t, s.SetRoundDuration(admin, 10))
	cfg := s.Config()
	assert.Equal(t, uint64(2_000_000), cfg.EntryFee)
	assert.Equal(t, uint64(10), cfg.TreasuryFeePercent)
	assert.Equal(t, uint64(10), cfg.RoundDuration)
}

// expiredRound creates a round with three guesses [1,2,1] and moves past
// its reveal height.
func expiredRound(t *testing.T) (*Store, uint64) {
	t.Helper()
	s, heights := newTestStore(t)
	id := createTestRound(t, s)
	fund(t, s, "alice", "bob", "carol")
	require.NoError(t, s.SubmitGuess(id, "alice", 1))
	require.NoError(t, s.SubmitGuess(id, "bob", 2))
	require.NoError(t, s.SubmitGuess(id, "carol", 1))
	heights.advance(DefaultRoundDuration)
	return s, id
}

func validSettlement() Settlement {
	// pool 3_000_000, 5% cut = 150_000, prize 2_850_000 / 2 = 1_425_000
	return Settlement{
		CorrectOption:  1,
		Revealer:       admin,
		PerWinnerShare: 1_425_000,
		TreasuryCut:    150_000,
		Outcomes: []PlayerOutcome{
			{Player: "alice", Won: true, Payout: 1_425_000},
			{Player: "bob"},
			{Player: "carol", Won: true, Payout: 1_425_000},
		},
	}
}

func TestSettleRound(t *testing.T) {
	s, id := expiredRound(t)

	res, err := s.SettleRound(id, validSettlement())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, res.Winners)
	assert.Equal(t, admin, res.RevealedBy)

	r, _ := s.Round(id)
	assert.True(t, r.Revealed)
	assert.False(t, r.Active)
	assert.Equal(t, uint8(1), r.CorrectOption)

	assert.Equal(t, uint64(150_000), s.Config().TreasuryBalance)
	assert.Equal(t, 9*DefaultEntryFee+1_425_000, s.Balance("alice"))
	assert.Equal(t, 9*DefaultEntryFee, s.Balance("bob"))

	alice := s.PlayerStats("alice")
	assert.Equal(t, PlayerStats{TotalGames: 1, CorrectGuesses: 1, TotalEarned: 1_425_000, WinStreak: 1, BestStreak: 1, LastPlayed: 244}, alice)
	bob := s.PlayerStats("bob")
	assert.Equal(t, PlayerStats{TotalGames: 1, LastPlayed: 244}, bob)
	assert.Equal(t, []string{"alice", "carol"}, s.Winners(id))
}

func TestSettleRoundTwiceIsRejected(t *testing.T) {
	s, id := expiredRound(t)
	_, err := s.SettleRound(id, validSettlement())
	require.NoError(t, err)

	before := s.PlayerStats("alice")
	treasury := s.Config().TreasuryBalance

	_, err = s.SettleRound(id, validSettlement())
	assert.ErrorIs(t, err, ErrAlreadyRevealed)
	assert.Equal(t, before, s.PlayerStats("alice"))
	assert.Equal(t, treasury, s.Config().TreasuryBalance)
}

func TestSettleRoundRejectsBadSettlementWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settlement)
		want   error
	}{
		{"non-admin revealer", func(st *Settlement) { st.Revealer = "bob" }, ErrUnauthorized},
		{"option out of range", func(st *Settlement) { st.CorrectOption = 5 }, ErrOptionMismatch},
		{"missing player", func(st *Settlement) { st.Outcomes = st.Outcomes[:2] }, ErrValidation},
		{"unknown player", func(st *Settlement) { st.Outcomes[1].Player = "mallory" }, ErrValidation},
		{"wrong winner flag", func(st *Settlement) { st.Outcomes[1].Won = true; st.Outcomes[1].Payout = 1_425_000 }, ErrValidation},
		{"payout drift", func(st *Settlement) { st.Outcomes[0].Payout++ }, ErrValidation},
		{"pool not conserved", func(st *Settlement) { st.TreasuryCut++ }, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, id := expiredRound(t)
			st := validSettlement()
			st.Outcomes = append([]PlayerOutcome(nil), st.Outcomes...)
			tt.mutate(&st)

			_, err := s.SettleRound(id, st)
			assert.ErrorIs(t, err, tt.want)

			r, _ := s.Round(id)
			assert.False(t, r.Revealed)
			assert.True(t, r.Active)
			assert.Zero(t, s.Config().TreasuryBalance)
			assert.Equal(t, PlayerStats{}, s.PlayerStats("alice"))
			assert.Equal(t, 9*DefaultEntryFee, s.Balance("alice"))
			_, ok := s.Result(id)
			assert.False(t, ok)
		})
	}
}

func TestSettleRoundBeforeExpiry(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)

	_, err := s.SettleRound(id, Settlement{CorrectOption: 1, Revealer: admin})
	assert.ErrorIs(t, err, ErrRoundNotEnded)

	_, err = s.SettleRound(99, Settlement{CorrectOption: 1, Revealer: admin})
	assert.ErrorIs(t, err, ErrRoundNotEnded)
}

func TestConcurrentGuessesAreSerialized(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)

	const players = 50
	for i := 0; i < players; i++ {
		fund(t, s, playerName(i))
	}

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SubmitGuess(id, playerName(i), uint8(i%NumOptions)+1)
		}(i)
	}
	// Concurrent readers must never see pool and count disagree.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r, err := s.Round(id)
				if err == nil && r.Pool != uint64(r.ParticipantCount)*r.EntryFee {
					t.Errorf("torn read: pool %d, participants %d", r.Pool, r.ParticipantCount)
				}
			}
		}()
	}
	wg.Wait()

	r, _ := s.Round(id)
	assert.Equal(t, uint32(players), r.ParticipantCount)
	assert.Len(t, s.Guesses(id), players)
}

func playerName(i int) string {
	return "player-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	s, id := expiredRound(t)

	var got []EventType
	unsubscribe := s.Subscribe(EventSubscriberFunc(func(e Event) {
		got = append(got, e.EventType())
		if settled, ok := e.(RoundSettledEvent); ok {
			// The store is unlocked while subscribers run.
			r, err := s.Round(settled.Round.ID)
			require.NoError(t, err)
			assert.True(t, r.Revealed)
		}
	}))

	_, err := s.SettleRound(id, validSettlement())
	require.NoError(t, err)
	unsubscribe()
	require.NoError(t, s.SetEntryFee(admin, 3))

	assert.Equal(t, []EventType{EventTypeRoundSettled}, got)
}

func TestConcurrentGuessEventsKeepCommitOrder(t *testing.T) {
	s, _ := newTestStore(t)
	id := createTestRound(t, s)

	const players = 50
	for i := 0; i < players; i++ {
		fund(t, s, playerName(i))
	}

	// Deliveries are serialized, so the slice needs no lock of its own.
	var counts []uint32
	var pools []uint64
	s.Subscribe(EventSubscriberFunc(func(e Event) {
		if g, ok := e.(GuessSubmittedEvent); ok {
			counts = append(counts, g.ParticipantCount)
			pools = append(pools, g.Pool)
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SubmitGuess(id, playerName(i), uint8(i%NumOptions)+1))
		}(i)
	}
	wg.Wait()

	require.Len(t, counts, players)
	for i, c := range counts {
		assert.Equal(t, uint32(i+1), c, "event %d out of order", i)
		assert.Equal(t, uint64(i+1)*DefaultEntryFee, pools[i])
	}
}

func TestSubscriberMayMutateStore(t *testing.T) {
	s, _ := newTestStore(t)

	var got []EventType
	s.Subscribe(EventSubscriberFunc(func(e Event) {
		got = append(got, e.EventType())
		if _, ok := e.(RoundCreatedEvent); ok {
			_, err := s.Mint(admin, "alice", 1)
			require.NoError(t, err)
		}
	}))

	createTestRound(t, s)

	// The nested event is delivered after the one that triggered it.
	assert.Equal(t, []EventType{EventTypeRoundCreated, EventTypeBalanceCredited}, got)
	assert.Equal(t, uint64(1), s.Balance("alice"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, id := expiredRound(t)
	_, err := s.SettleRound(id, validSettlement())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, s.Save(path))

	heights := &testHeights{}
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	restored, height, err := Load(path, DefaultGameConfig("someone-else"), heights, logger)
	require.NoError(t, err)
	assert.Equal(t, uint64(244), height)

	assert.Equal(t, s.Config(), restored.Config())
	r1, _ := s.Round(id)
	r2, err := restored.Round(id)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Equal(t, s.PlayerStats("alice"), restored.PlayerStats("alice"))
	assert.Equal(t, s.Participants(id), restored.Participants(id))
	assert.Equal(t, s.Balance("carol"), restored.Balance("carol"))
	assert.Equal(t, s.Winners(id), restored.Winners(id))
}

func TestLoadMissingSnapshot(t *testing.T) {
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	s, height, err := Load(filepath.Join(t.TempDir(), "absent.json"), DefaultGameConfig(admin), &testHeights{}, logger)
	require.NoError(t, err)
	assert.Zero(t, height)
	assert.Equal(t, admin, s.Config().Admin)
}

func TestRoundIDs(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		createTestRound(t, s)
	}
	assert.Equal(t, []uint64{5, 4, 3}, s.RoundIDs(3))
	assert.Len(t, s.RoundIDs(0), 5)
}
