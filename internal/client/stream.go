package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/server"
)

const (
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// ErrClosed is returned when sending on a closed stream.
var ErrClosed = errors.New("client: stream closed")

// EventHandler handles a message received on a Stream.
type EventHandler func(*server.Message)

// Stream is a websocket subscription to the server's event feed. It can also
// authenticate and join rounds without going through the HTTP API.
type Stream struct {
	conn      *websocket.Conn
	clock     quartz.Clock
	send      chan *server.Message
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	handlers map[server.MessageType][]EventHandler
	nextID   uint64
}

// Subscribe opens a websocket to the server. When the client has a token it
// is passed along so the stream starts authenticated.
func (c *Client) Subscribe(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: websocket rejected token", ledger.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ledger.ErrRemoteUnavailable, u.Redacted(), err)
	}

	sctx, scancel := context.WithCancel(ctx)
	s := &Stream{
		conn:     conn,
		clock:    c.clock,
		send:     make(chan *server.Message, 64),
		ctx:      sctx,
		cancel:   scancel,
		handlers: make(map[server.MessageType][]EventHandler),
	}
	go s.readPump()
	go s.writePump()
	c.logger.Debug("Subscribed to event stream", "url", u.Redacted())
	return s, nil
}

// Done is closed when the stream ends.
func (s *Stream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close ends the stream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// On registers handler for messages of the given type.
func (s *Stream) On(typ server.MessageType, handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[typ] = append(s.handlers[typ], handler)
}

// Send queues msg for the server.
func (s *Stream) Send(msg *server.Message) error {
	select {
	case s.send <- msg:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Request sends a message and waits for the reply carrying the same request
// id. Error replies are returned as ledger errors.
func (s *Stream) Request(ctx context.Context, typ server.MessageType, data any) (*server.Message, error) {
	msg, err := server.NewMessage(typ, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	msg.RequestID = fmt.Sprintf("req-%d", s.nextID)
	s.mu.Unlock()

	replies := make(chan *server.Message, 1)
	s.onReply(msg.RequestID, replies)
	defer s.dropReply(msg.RequestID)

	if err := s.Send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		if reply.Type == server.MessageTypeError {
			var e server.ErrorData
			if err := json.Unmarshal(reply.Data, &e); err != nil {
				return nil, fmt.Errorf("decode error reply: %w", err)
			}
			return nil, ledger.FromCode(e.Code, e.Message)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
}

// Auth authenticates the stream with token.
func (s *Stream) Auth(ctx context.Context, token string) (string, error) {
	reply, err := s.Request(ctx, server.MessageTypeAuth, server.AuthData{Token: token})
	if err != nil {
		return "", err
	}
	var data server.AuthResponseData
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return "", err
	}
	if !data.Success {
		return "", fmt.Errorf("%w: %s", ledger.ErrUnauthorized, data.Error)
	}
	return data.Principal, nil
}

// Join submits a guess for the current round over the stream.
func (s *Stream) Join(ctx context.Context, option uint8) (uint64, error) {
	reply, err := s.Request(ctx, server.MessageTypeJoin, server.JoinData{Option: option})
	if err != nil {
		return 0, err
	}
	var data server.JoinedData
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return 0, err
	}
	return data.RoundID, nil
}

func replyKey(id string) server.MessageType {
	return server.MessageType("reply:" + id)
}

func (s *Stream) onReply(id string, ch chan *server.Message) {
	s.On(replyKey(id), func(m *server.Message) {
		select {
		case ch <- m:
		default:
		}
	})
}

func (s *Stream) dropReply(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, replyKey(id))
}

func (s *Stream) dispatch(msg *server.Message) {
	s.mu.RLock()
	handlers := append([]EventHandler(nil), s.handlers[msg.Type]...)
	if msg.RequestID != "" {
		handlers = append(handlers, s.handlers[replyKey(msg.RequestID)]...)
	}
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(msg)
	}
}

func (s *Stream) readPump() {
	defer func() { _ = s.Close() }()
	for {
		var msg server.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		s.dispatch(&msg)
	}
}

func (s *Stream) writePump() {
	ticker := s.clock.NewTicker(pingInterval, "client", "ping")
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				_ = s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.Close()
				return
			}
		case <-s.ctx.Done():
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			_ = s.Close()
			return
		}
	}
}
