// Package server exposes the ledger over HTTP and streams committed ledger
// events to websocket subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/wordchain/internal/auth"
	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/lifecycle"
	"github.com/lox/wordchain/internal/settlement"
)

// Deps are the components the server fronts.
type Deps struct {
	Store     *ledger.Store
	Lifecycle *lifecycle.Manager
	Engine    *settlement.Engine
	Auth      auth.Validator
}

// Server represents the HTTP and WebSocket server
type Server struct {
	addr        string
	deps        Deps
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	httpServer  *http.Server
}

// NewServer creates a server and subscribes it to ledger events.
func NewServer(addr string, deps Deps, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr: addr,
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.unsubscribe = deps.Store.Subscribe(ledger.EventSubscriberFunc(s.OnEvent))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/rounds", s.handleListRounds)
	mux.HandleFunc("GET /v1/rounds/current", s.handleCurrentRound)
	mux.HandleFunc("GET /v1/rounds/{id}", s.handleRound)
	mux.HandleFunc("GET /v1/rounds/{id}/guesses", s.handleGuesses)
	mux.HandleFunc("GET /v1/rounds/{id}/guesses/{player}", s.handlePlayerGuess)
	mux.HandleFunc("GET /v1/rounds/{id}/participants", s.handleParticipants)
	mux.HandleFunc("GET /v1/rounds/{id}/winners", s.handleWinners)
	mux.HandleFunc("GET /v1/rounds/{id}/pool", s.handlePool)
	mux.HandleFunc("GET /v1/rounds/{id}/result", s.handleResult)
	mux.HandleFunc("GET /v1/players/{player}/stats", s.handlePlayerStats)
	mux.HandleFunc("GET /v1/players/{player}/balance", s.handleBalance)
	mux.HandleFunc("GET /v1/players/{player}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)

	mux.HandleFunc("POST /v1/rounds", s.authenticated(s.handleCreateRound))
	mux.HandleFunc("POST /v1/rounds/current/guesses", s.authenticated(s.handleJoin))
	mux.HandleFunc("POST /v1/rounds/{id}/guesses", s.authenticated(s.handleSubmitGuess))
	mux.HandleFunc("POST /v1/rounds/{id}/reveal", s.authenticated(s.handleReveal))
	mux.HandleFunc("POST /v1/admin/mint", s.authenticated(s.handleMint))
	mux.HandleFunc("POST /v1/admin/entry-fee", s.authenticated(s.handleSetEntryFee))
	mux.HandleFunc("POST /v1/admin/treasury-fee", s.authenticated(s.handleSetTreasuryFee))
	mux.HandleFunc("POST /v1/admin/round-duration", s.authenticated(s.handleSetRoundDuration))
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, stops the event stream and closes
// every websocket connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.unsubscribe()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// OnEvent broadcasts committed ledger events to every connection.
func (s *Server) OnEvent(ev ledger.Event) {
	msg, err := eventMessage(ev)
	if err != nil {
		s.logger.Error("Failed to encode event", "type", ev.EventType(), "error", err)
		return
	}
	if msg == nil {
		return
	}
	s.Broadcast(msg)
}

// Broadcast sends msg to every connection.
func (s *Server) Broadcast(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for conn := range s.connections {
		if err := conn.SendMessage(msg); err != nil {
			s.logger.Debug("Failed to send message to client", "error", err, "principal", conn.Principal())
			continue
		}
		count++
	}
	s.logger.Debug("Broadcast message", "type", msg.Type, "recipients", count)
}

// ConnectionCount returns the number of open websocket connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) register(conn *Connection) {
	s.mu.Lock()
	s.connections[conn] = true
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client connected", "total", total, "principal", conn.Principal())
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	if _, ok := s.connections[conn]; ok {
		delete(s.connections, conn)
		_ = conn.Close()
	}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client disconnected", "total", total)
}

// handleWebSocket handles WebSocket upgrade requests. A token, if supplied,
// authenticates the connection up front.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var identity *auth.Identity
	if token := auth.TokenFromRequest(r); token != "" {
		id, err := s.deps.Auth.Validate(r.Context(), token)
		if err != nil {
			s.writeError(w, authError(err))
			return
		}
		identity = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(s.ctx, conn, s.deps, s.logger)
	if identity != nil {
		client.SetPrincipal(identity.Principal)
	}
	s.register(client)
	client.Start()

	go func() {
		<-client.Done()
		s.unregister(client)
	}()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}
