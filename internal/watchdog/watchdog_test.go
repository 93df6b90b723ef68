package watchdog

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wordchain/internal/answers"
	"github.com/lox/wordchain/internal/chain"
	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/settlement"
)

const admin = "ST1ADMIN"

var options = [ledger.NumOptions]string{"Lasting a short time", "Everlasting", "Painful", "Colorful"}

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

type fixture struct {
	chain   *chain.Local
	store   *ledger.Store
	answers *answers.Memory
	local   Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	c := chain.NewLocal(100, time.Minute, quartz.NewMock(t), logger)
	store := ledger.NewStore(ledger.DefaultGameConfig(admin), c, logger)
	return &fixture{
		chain:   c,
		store:   store,
		answers: answers.NewMemory(),
		local:   Local{Store: store, Engine: settlement.NewEngine(store, logger)},
	}
}

// round creates a round committed to the given correct option and records
// guesses in order.
func (f *fixture) round(t *testing.T, correct uint8, guesses ...uint8) uint64 {
	t.Helper()
	id, err := f.store.CreateRound(ledger.CreateRoundRequest{
		Word:       "ephemeral",
		Options:    options,
		Commitment: commitment.Commit("ephemeral", options[correct-1]),
		Creator:    admin,
	})
	require.NoError(t, err)
	for i, opt := range guesses {
		player := string(rune('a' + i))
		_, err := f.store.Mint(admin, player, ledger.DefaultEntryFee)
		require.NoError(t, err)
		require.NoError(t, f.store.SubmitGuess(id, player, opt))
	}
	return id
}

func (f *fixture) watchdog(t *testing.T, signer string) *Watchdog {
	cfg := DefaultConfig()
	cfg.Signer = signer
	return New(cfg, f.local, f.answers, quietLogger(), quartz.NewMock(t))
}

func TestScanSettlesZeroGuessRoundWithOptionOne(t *testing.T) {
	f := newFixture(t)
	id := f.round(t, 1)
	f.chain.Advance(ledger.DefaultRoundDuration)

	report, err := f.watchdog(t, admin).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, report.Settled)
	assert.Equal(t, SourceDefault, report.Sources[id])
	assert.Empty(t, report.Failed)

	round, err := f.store.Round(id)
	require.NoError(t, err)
	assert.True(t, round.Revealed)
	assert.Equal(t, uint8(1), round.CorrectOption)
	assert.Empty(t, f.store.Winners(id))
	assert.Equal(t, round.Pool, f.store.Config().TreasuryBalance)
}

func TestScanPrefersStoredAnswerOverPlurality(t *testing.T) {
	f := newFixture(t)
	id := f.round(t, 3, 2, 2, 2, 3)
	require.NoError(t, f.answers.Put(context.Background(), id, answers.Answer{Text: options[2], Option: 3}))
	f.chain.Advance(ledger.DefaultRoundDuration)

	report, err := f.watchdog(t, admin).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, report.Settled)
	assert.Equal(t, SourceStored, report.Sources[id])

	res, ok := f.store.Result(id)
	require.True(t, ok)
	assert.Equal(t, uint8(3), res.CorrectOption)
	assert.Equal(t, []string{"d"}, res.Winners)
}

func TestScanFallsBackToPlurality(t *testing.T) {
	f := newFixture(t)
	id := f.round(t, 2, 1, 2, 2, 4)
	f.chain.Advance(ledger.DefaultRoundDuration)

	report, err := f.watchdog(t, admin).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourcePlurality, report.Sources[id])
	assert.Equal(t, []uint64{id}, report.Settled)
	assert.ElementsMatch(t, []string{"b", "c"}, f.store.Winners(id))
}

func TestScanReportsCommitmentMismatchAndContinues(t *testing.T) {
	f := newFixture(t)
	// Committed to option 4, but the crowd picked option 1.
	id := f.round(t, 4, 1, 1)
	f.chain.Advance(ledger.DefaultRoundDuration)

	report, err := f.watchdog(t, admin).Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Settled)
	assert.ErrorIs(t, report.Failed[id], ledger.ErrCommitmentMismatch)

	round, err := f.store.Round(id)
	require.NoError(t, err)
	assert.False(t, round.Revealed)
}

func TestScanWithoutSignerReportsPending(t *testing.T) {
	f := newFixture(t)
	id := f.round(t, 1, 1)
	f.chain.Advance(ledger.DefaultRoundDuration)

	report, err := f.watchdog(t, "").Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, report.Expired)
	assert.Equal(t, []uint64{id}, report.Pending)
	assert.Empty(t, report.Settled)

	round, err := f.store.Round(id)
	require.NoError(t, err)
	assert.False(t, round.Revealed)
}

func TestScanSkipsOpenAndSettledRounds(t *testing.T) {
	f := newFixture(t)
	w := f.watchdog(t, admin)

	id := f.round(t, 1)
	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Expired)

	f.chain.Advance(ledger.DefaultRoundDuration)
	report, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, report.Settled)

	report, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
	assert.Empty(t, report.Failed)
}

func TestScanWindow(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		id := f.round(t, 1)
		f.chain.Advance(ledger.DefaultRoundDuration)
		_, err := f.local.Reveal(context.Background(), settlement.RevealRequest{
			RoundID: id, Word: "ephemeral", Answer: options[0], Option: 1, Revealer: admin,
		})
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	cfg.Window = 2
	report, err := New(cfg, f.local, nil, quietLogger(), quartz.NewMock(t)).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), report.CurrentRoundID)
	assert.Equal(t, 2, report.Checked)
}

func TestPlurality(t *testing.T) {
	t.Parallel()
	g := func(opts ...uint8) []ledger.Guess {
		out := make([]ledger.Guess, len(opts))
		for i, o := range opts {
			out[i] = ledger.Guess{Option: o}
		}
		return out
	}

	tests := []struct {
		name    string
		guesses []ledger.Guess
		want    uint8
		ok      bool
	}{
		{"none", nil, 0, false},
		{"single", g(3), 3, true},
		{"majority", g(2, 2, 1), 2, true},
		{"tie prefers lowest", g(4, 2, 4, 2), 2, true},
		{"invalid ignored", g(0, 9), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Plurality(tt.guesses)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

// stallingLedger never answers height requests.
type stallingLedger struct{ Local }

func (stallingLedger) Height(ctx context.Context) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestScanCallTimeoutIsRemoteUnavailable(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	w := New(cfg, stallingLedger{f.local}, nil, quietLogger(), quartz.NewMock(t))

	_, err := w.Scan(context.Background())
	assert.ErrorIs(t, err, ledger.ErrRemoteUnavailable)
}

// blockingLedger holds the first height call until released.
type blockingLedger struct {
	Local
	entered chan struct{}
	release chan struct{}
}

func (b blockingLedger) Height(ctx context.Context) (uint64, error) {
	close(b.entered)
	<-b.release
	return b.Local.Height(ctx)
}

func TestScanInFlight(t *testing.T) {
	f := newFixture(t)
	bl := blockingLedger{Local: f.local, entered: make(chan struct{}), release: make(chan struct{})}
	w := New(DefaultConfig(), bl, nil, quietLogger(), quartz.NewMock(t))

	done := make(chan error, 1)
	go func() {
		_, err := w.Scan(context.Background())
		done <- err
	}()
	<-bl.entered

	_, err := w.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanInFlight)

	close(bl.release)
	require.NoError(t, <-done)
}

func TestRunScansImmediatelyAndOnTicker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := newFixture(t)
	first := f.round(t, 1)
	f.chain.Advance(ledger.DefaultRoundDuration)

	mock := quartz.NewMock(t)
	cfg := DefaultConfig()
	cfg.Signer = admin
	w := New(cfg, f.local, f.answers, quietLogger(), mock)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	require.Eventually(t, func() bool {
		r, err := f.store.Round(first)
		return err == nil && r.Revealed
	}, 2*time.Second, 5*time.Millisecond)

	second := f.round(t, 1)
	f.chain.Advance(ledger.DefaultRoundDuration)
	require.Eventually(t, func() bool {
		mock.Advance(DefaultInterval).MustWait(ctx)
		r, err := f.store.Round(second)
		return err == nil && r.Revealed
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	require.NoError(t, <-done)
}
