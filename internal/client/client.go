package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/wordchain/internal/leaderboard"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/server"
	"github.com/lox/wordchain/internal/settlement"
	"github.com/lox/wordchain/internal/wire"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 10 * time.Second

// Client talks to a wordchain server over its HTTP API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	clock   quartz.Clock
	logger  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock sets the clock behind health polling and stream keepalives.
func WithClock(clock quartz.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates a client for the server at baseURL. Writes are signed with
// token as a bearer credential.
func New(baseURL, token string, logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: DefaultTimeout,
		http:    http.DefaultClient,
		clock:   quartz.NewReal(),
		logger:  logger.WithPrefix("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs a request and decodes a tagged ok response into dst. Error
// responses are translated back into ledger errors.
func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ledger.ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ledger.ErrRemoteUnavailable, err)
	}
	c.logger.Debug("API call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return responseError(resp.StatusCode, raw)
	}
	if dst == nil {
		return nil
	}
	if err := wire.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func responseError(status int, raw []byte) error {
	var e server.ErrorData
	if err := json.Unmarshal(raw, &e); err == nil && e.Code != 0 {
		return ledger.FromCode(e.Code, e.Message)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: server returned %d", ledger.ErrRemoteUnavailable, status)
	}
	return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(raw)))
}

// Status returns the chain height and game configuration.
func (c *Client) Status(ctx context.Context) (server.StatusResponse, error) {
	var status server.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status)
	return status, err
}

// Height returns the server's current block height.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	status, err := c.Status(ctx)
	return status.Height, err
}

// CurrentRoundID returns the id of the newest round, or 0 when none exist.
func (c *Client) CurrentRoundID(ctx context.Context) (uint64, error) {
	status, err := c.Status(ctx)
	return status.Config.CurrentRoundID, err
}

// Config returns the game configuration.
func (c *Client) Config(ctx context.Context) (ledger.GameConfig, error) {
	status, err := c.Status(ctx)
	return status.Config, err
}

func (c *Client) Round(ctx context.Context, id uint64) (ledger.Round, error) {
	var round ledger.Round
	err := c.do(ctx, http.MethodGet, roundPath(id, ""), nil, &round)
	return round, err
}

func (c *Client) CurrentRound(ctx context.Context) (ledger.Round, error) {
	var round ledger.Round
	err := c.do(ctx, http.MethodGet, "/v1/rounds/current", nil, &round)
	return round, err
}

// Rounds lists up to limit of the newest rounds, newest first.
func (c *Client) Rounds(ctx context.Context, limit int) ([]ledger.Round, error) {
	var rounds []ledger.Round
	err := c.do(ctx, http.MethodGet, "/v1/rounds?limit="+strconv.Itoa(limit), nil, &rounds)
	return rounds, err
}

func (c *Client) Guesses(ctx context.Context, roundID uint64) ([]ledger.Guess, error) {
	var guesses []ledger.Guess
	err := c.do(ctx, http.MethodGet, roundPath(roundID, "/guesses"), nil, &guesses)
	return guesses, err
}

// Guess returns a player's guess for a round. The second result is false
// when the player has not guessed.
func (c *Client) Guess(ctx context.Context, roundID uint64, player string) (ledger.Guess, bool, error) {
	var guess *ledger.Guess
	if err := c.do(ctx, http.MethodGet, roundPath(roundID, "/guesses/"+url.PathEscape(player)), nil, &guess); err != nil {
		return ledger.Guess{}, false, err
	}
	if guess == nil {
		return ledger.Guess{}, false, nil
	}
	return *guess, true, nil
}

func (c *Client) Participants(ctx context.Context, roundID uint64) ([]string, error) {
	var players []string
	err := c.do(ctx, http.MethodGet, roundPath(roundID, "/participants"), nil, &players)
	return players, err
}

func (c *Client) Winners(ctx context.Context, roundID uint64) ([]string, error) {
	var players []string
	err := c.do(ctx, http.MethodGet, roundPath(roundID, "/winners"), nil, &players)
	return players, err
}

func (c *Client) Pool(ctx context.Context, roundID uint64) (uint64, error) {
	var pool uint64
	err := c.do(ctx, http.MethodGet, roundPath(roundID, "/pool"), nil, &pool)
	return pool, err
}

func (c *Client) Result(ctx context.Context, roundID uint64) (ledger.RoundResult, error) {
	var res ledger.RoundResult
	err := c.do(ctx, http.MethodGet, roundPath(roundID, "/result"), nil, &res)
	return res, err
}

func (c *Client) PlayerStats(ctx context.Context, player string) (ledger.PlayerStats, error) {
	var stats ledger.PlayerStats
	err := c.do(ctx, http.MethodGet, playerPath(player, "/stats"), nil, &stats)
	return stats, err
}

func (c *Client) Balance(ctx context.Context, player string) (uint64, error) {
	var resp server.BalanceResponse
	err := c.do(ctx, http.MethodGet, playerPath(player, "/balance"), nil, &resp)
	return resp.Balance, err
}

// History returns the player's participation in the last window rounds.
func (c *Client) History(ctx context.Context, player string, window uint64) ([]leaderboard.HistoryEntry, error) {
	var entries []leaderboard.HistoryEntry
	path := playerPath(player, "/history") + "?window=" + strconv.FormatUint(window, 10)
	err := c.do(ctx, http.MethodGet, path, nil, &entries)
	return entries, err
}

// LeaderboardQuery selects and orders leaderboard rows. Zero values use the
// server defaults.
type LeaderboardQuery struct {
	Sort     leaderboard.SortKey
	Limit    int
	Window   uint64
	MinGames uint64
}

func (q LeaderboardQuery) encode() string {
	v := url.Values{}
	if q.Sort != "" {
		v.Set("sort", string(q.Sort))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Window > 0 {
		v.Set("window", strconv.FormatUint(q.Window, 10))
	}
	if q.MinGames > 0 {
		v.Set("min_games", strconv.FormatUint(q.MinGames, 10))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]leaderboard.Row, error) {
	var rows []leaderboard.Row
	err := c.do(ctx, http.MethodGet, "/v1/leaderboard"+q.encode(), nil, &rows)
	return rows, err
}

// TxResult is the acknowledgement of a state change.
type TxResult[T any] struct {
	TxID   string `json:"txid"`
	Result T      `json:"result"`
}

func tx[T any](ctx context.Context, c *Client, path string, body any) (TxResult[T], error) {
	var res TxResult[T]
	err := c.do(ctx, http.MethodPost, path, body, &res)
	return res, err
}

// CreateRound starts a new round.
func (c *Client) CreateRound(ctx context.Context, req server.CreateRoundRequest) (TxResult[server.RoundCreatedResponse], error) {
	return tx[server.RoundCreatedResponse](ctx, c, "/v1/rounds", req)
}

// Join submits a guess for the current round.
func (c *Client) Join(ctx context.Context, option uint8) (TxResult[server.GuessResponse], error) {
	return tx[server.GuessResponse](ctx, c, "/v1/rounds/current/guesses", server.GuessRequest{Option: option})
}

// SubmitGuess submits a guess for a specific round.
func (c *Client) SubmitGuess(ctx context.Context, roundID uint64, option uint8) (TxResult[server.GuessResponse], error) {
	return tx[server.GuessResponse](ctx, c, roundPath(roundID, "/guesses"), server.GuessRequest{Option: option})
}

// Reveal settles a round. The revealer is the principal behind the client's
// token; req.Revealer is ignored.
func (c *Client) Reveal(ctx context.Context, req settlement.RevealRequest) (settlement.Result, error) {
	res, err := tx[settlement.Result](ctx, c, roundPath(req.RoundID, "/reveal"), server.RevealRequest{
		Word:   req.Word,
		Answer: req.Answer,
		Option: req.Option,
	})
	return res.Result, err
}

// Mint credits player with amount and returns the new balance.
func (c *Client) Mint(ctx context.Context, player string, amount uint64) (uint64, error) {
	res, err := tx[server.BalanceResponse](ctx, c, "/v1/admin/mint", server.MintRequest{Player: player, Amount: amount})
	return res.Result.Balance, err
}

func (c *Client) SetEntryFee(ctx context.Context, fee uint64) (ledger.GameConfig, error) {
	return c.setConfig(ctx, "/v1/admin/entry-fee", fee)
}

func (c *Client) SetTreasuryFeePercent(ctx context.Context, percent uint64) (ledger.GameConfig, error) {
	return c.setConfig(ctx, "/v1/admin/treasury-fee", percent)
}

func (c *Client) SetRoundDuration(ctx context.Context, blocks uint64) (ledger.GameConfig, error) {
	return c.setConfig(ctx, "/v1/admin/round-duration", blocks)
}

func (c *Client) setConfig(ctx context.Context, path string, value uint64) (ledger.GameConfig, error) {
	res, err := tx[ledger.GameConfig](ctx, c, path, server.AmountRequest{Value: value})
	return res.Result, err
}

func roundPath(id uint64, suffix string) string {
	return "/v1/rounds/" + strconv.FormatUint(id, 10) + suffix
}

func playerPath(player, suffix string) string {
	return "/v1/players/" + url.PathEscape(player) + suffix
}

// IsUnavailable reports whether err means the server could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ledger.ErrRemoteUnavailable)
}
