package server

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/wordchain/internal/answers"
	"github.com/lox/wordchain/internal/auth"
	"github.com/lox/wordchain/internal/commitment"
	"github.com/lox/wordchain/internal/leaderboard"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/lifecycle"
	"github.com/lox/wordchain/internal/settlement"
	"github.com/lox/wordchain/internal/wire"
)

const (
	maxBodySize          = 1 << 16
	defaultHistoryWindow = 20
	defaultActiveWindow  = 10
	defaultListLimit     = 20
)

type principalKey struct{}

func principalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// authenticated resolves the bearer token before calling next.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			s.writeError(w, errUnauthenticated)
			return
		}
		identity, err := s.deps.Auth.Validate(r.Context(), token)
		if err != nil || identity == nil {
			s.writeError(w, authError(err))
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, identity.Principal)
		next(w, r.WithContext(ctx))
	}
}

// writeValue writes v as a tagged ok response.
func (s *Server) writeValue(w http.ResponseWriter, v any) {
	val, err := wire.OK(v)
	if err != nil {
		s.logger.Error("Failed to encode response", "error", err)
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(val)
}

// writeTx acknowledges a state change.
func (s *Server) writeTx(w http.ResponseWriter, r *http.Request, body []byte, result any) {
	h := sha256.New()
	h.Write([]byte(principalFrom(r.Context())))
	h.Write([]byte(r.Method + " " + r.URL.Path))
	h.Write(body)
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], s.deps.Store.Height())
	h.Write(height[:])
	var now [8]byte
	binary.BigEndian.PutUint64(now[:], uint64(time.Now().UnixNano()))
	h.Write(now[:])

	s.writeValue(w, TxResponse{TxID: hex.EncodeToString(h.Sum(nil)), Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorData{Code: ledger.CodeOf(err), Message: err.Error()})
}

// decodeBody reads a JSON body into dst and returns the raw bytes.
func decodeBody(r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ledger.ErrValidation, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ledger.ErrValidation, err)
	}
	return body, nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: round id %q", ledger.ErrValidation, r.PathValue("id"))
	}
	return id, nil
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ledger.ErrValidation, name, raw)
	}
	return v, nil
}

// roundFor resolves the {id} path value to an existing round.
func (s *Server) roundFor(w http.ResponseWriter, r *http.Request) (ledger.Round, bool) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return ledger.Round{}, false
	}
	round, err := s.deps.Store.Round(id)
	if err != nil {
		s.writeError(w, err)
		return ledger.Round{}, false
	}
	return round, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeValue(w, StatusResponse{Height: s.deps.Store.Height(), Config: s.deps.Store.Config()})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	limit, err := queryUint(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := s.deps.Store.RoundIDs(int(limit))
	rounds := make([]ledger.Round, 0, len(ids))
	for _, id := range ids {
		if round, err := s.deps.Store.Round(id); err == nil {
			rounds = append(rounds, round)
		}
	}
	s.writeValue(w, rounds)
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, ok := s.deps.Store.CurrentRound()
	if !ok {
		s.writeError(w, fmt.Errorf("%w: no rounds yet", ledger.ErrRoundNotFound))
		return
	}
	s.writeValue(w, round)
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	if round, ok := s.roundFor(w, r); ok {
		s.writeValue(w, round)
	}
}

func (s *Server) handleGuesses(w http.ResponseWriter, r *http.Request) {
	if round, ok := s.roundFor(w, r); ok {
		s.writeValue(w, s.deps.Store.Guesses(round.ID))
	}
}

func (s *Server) handlePlayerGuess(w http.ResponseWriter, r *http.Request) {
	round, ok := s.roundFor(w, r)
	if !ok {
		return
	}
	guess, found := s.deps.Store.Guess(round.ID, r.PathValue("player"))
	if !found {
		s.writeValue(w, nil)
		return
	}
	s.writeValue(w, guess)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if round, ok := s.roundFor(w, r); ok {
		s.writeValue(w, s.deps.Store.Participants(round.ID))
	}
}

func (s *Server) handleWinners(w http.ResponseWriter, r *http.Request) {
	if round, ok := s.roundFor(w, r); ok {
		s.writeValue(w, s.deps.Store.Winners(round.ID))
	}
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if round, ok := s.roundFor(w, r); ok {
		s.writeValue(w, round.Pool)
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	round, ok := s.roundFor(w, r)
	if !ok {
		return
	}
	res, settled := s.deps.Store.Result(round.ID)
	if !settled {
		s.writeError(w, fmt.Errorf("%w: round %d is not settled", ledger.ErrRoundNotEnded, round.ID))
		return
	}
	s.writeValue(w, res)
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	s.writeValue(w, s.deps.Store.PlayerStats(r.PathValue("player")))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	player := r.PathValue("player")
	s.writeValue(w, BalanceResponse{Player: player, Balance: s.deps.Store.Balance(player)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	window, err := queryUint(r, "window", defaultHistoryWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := leaderboard.History(r.Context(), s.deps.Store, r.PathValue("player"), window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeValue(w, entries)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryUint(r, "limit", 10)
	if err != nil {
		s.writeError(w, err)
		return
	}
	window, err := queryUint(r, "window", defaultActiveWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	minGames, err := queryUint(r, "min_games", leaderboard.DefaultMinGames)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx := r.Context()
	players, err := leaderboard.ActivePlayers(ctx, s.deps.Store, window)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var rows []leaderboard.Row
	switch key := leaderboard.SortKey(q.Get("sort")); key {
	case "", leaderboard.ByWinRate:
		rows, err = leaderboard.TopByWinRate(ctx, s.deps.Store, players, int(limit), minGames)
	case leaderboard.ByTotalEarned:
		rows, err = leaderboard.TopByEarnings(ctx, s.deps.Store, players, int(limit))
	case leaderboard.ByCorrectGuesses:
		rows, err = leaderboard.Project(ctx, s.deps.Store, players, key)
		if limit > 0 && len(rows) > int(limit) {
			rows = rows[:limit]
		}
	default:
		err = fmt.Errorf("%w: unknown sort %q", ledger.ErrValidation, key)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []leaderboard.Row{}
	}
	s.writeValue(w, rows)
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	body, err := decodeBody(r, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts, err := ledger.OptionsFromSlice(req.Options)
	if err != nil {
		s.writeError(w, err)
		return
	}

	create := lifecycle.CreateRequest{
		Word:    req.Word,
		Options: opts,
		Creator: principalFrom(r.Context()),
	}
	if req.Commitment != "" {
		digest, err := commitment.Parse(req.Commitment)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", ledger.ErrValidation, err))
			return
		}
		create.Commitment = digest
	}
	if req.Answer != "" || req.Option != 0 {
		create.Answer = &answers.Answer{Text: req.Answer, Option: req.Option}
	}

	id, err := s.deps.Lifecycle.RequestCreateRound(r.Context(), create)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTx(w, r, body, RoundCreatedResponse{RoundID: id})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req GuessRequest
	body, err := decodeBody(r, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.deps.Lifecycle.Join(r.Context(), principalFrom(r.Context()), req.Option)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTx(w, r, body, GuessResponse{RoundID: id})
}

func (s *Server) handleSubmitGuess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req GuessRequest
	body, err := decodeBody(r, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.SubmitGuess(id, principalFrom(r.Context()), req.Option); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTx(w, r, body, GuessResponse{RoundID: id})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req RevealRequest
	body, err := decodeBody(r, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Engine.Reveal(r.Context(), settlement.RevealRequest{
		RoundID:  id,
		Word:     req.Word,
		Answer:   req.Answer,
		Option:   req.Option,
		Revealer: principalFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTx(w, r, body, res)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	body, err := decodeBody(r, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	balance, err := s.deps.Store.Mint(principalFrom(r.Context()), req.Player, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTx(w, r, body, BalanceResponse{Player: req.Player, Balance: balance})
}

func (s *Server) handleSetEntryFee(w http.ResponseWriter, r *http.Request) {
	s.handleConfigUpdate(w, r, s.deps.Store.SetEntryFee)
}

func (s *Server) handleSetTreasuryFee(w http.ResponseWriter, r *http.Request) {
	s.handleConfigUpdate(w, r, s.deps.Store.SetTreasuryFeePercent)
}

func (s *Server) handleSetRoundDuration(w http.ResponseWriter, r *http.Request) {
	s.handleConfigUpdate(w, r, s.deps.Store.SetRoundDuration)
}

func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request, apply func(caller string, value uint64) error) {
	var req AmountRequest
	body, err := decodeBody(r, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := apply(principalFrom(r.Context()), req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTx(w, r, body, s.deps.Store.Config())
}
