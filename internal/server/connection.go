package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/wordchain/internal/ledger"
)

// Connection is one websocket subscriber. It receives broadcast ledger
// events and may authenticate to join rounds.
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	deps      Deps
	principal string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
}

// Websocket timing. Pings go out before the peer's read deadline lapses.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// ErrConnectionClosed is returned when sending to a closed or saturated
// connection.
var ErrConnectionClosed = errors.New("server: connection closed")

// NewConnection wraps conn. The connection ends when parent is cancelled.
func NewConnection(parent context.Context, conn *websocket.Conn, deps Deps, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		conn:   conn,
		send:   make(chan *Message, sendBuffer),
		deps:   deps,
		logger: logger.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the read and write pumps.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed once the connection has ended.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues msg without blocking. A client that cannot keep up is
// disconnected.
func (c *Connection) SendMessage(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "principal", c.Principal())
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// SetPrincipal associates this connection with an identity.
func (c *Connection) SetPrincipal(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = principal
}

// Principal returns the associated identity, if any.
func (c *Connection) Principal() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump owns all writes to conn.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "principal", c.Principal())

	switch msg.Type {
	case MessageTypeAuth:
		var data AuthData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg, ledger.CodeValidation, "Failed to parse auth data")
			return
		}
		c.handleAuth(msg, data)

	case MessageTypeJoin:
		var data JoinData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg, ledger.CodeValidation, "Failed to parse join data")
			return
		}
		c.handleJoin(msg, data)

	case MessageTypePing:
		c.reply(msg, MessageTypePong, struct{}{})

	default:
		c.sendError(msg, ledger.CodeValidation, "Unknown message type: "+msg.Type.String())
	}
}

func (c *Connection) reply(req *Message, typ MessageType, data any) {
	resp, err := NewMessage(typ, data)
	if err != nil {
		c.logger.Error("Failed to create message", "type", typ, "error", err)
		return
	}
	resp.RequestID = req.RequestID
	_ = c.SendMessage(resp)
}

func (c *Connection) sendError(req *Message, code ledger.Code, message string) {
	c.reply(req, MessageTypeError, ErrorData{Code: code, Message: message})
}

func (c *Connection) handleAuth(msg *Message, data AuthData) {
	identity, err := c.deps.Auth.Validate(c.ctx, data.Token)
	if err != nil || identity == nil {
		c.reply(msg, MessageTypeAuthResponse, AuthResponseData{Success: false, Error: "invalid token"})
		return
	}
	c.SetPrincipal(identity.Principal)
	c.logger.Info("Connection authenticated", "principal", identity.Principal)
	c.reply(msg, MessageTypeAuthResponse, AuthResponseData{Success: true, Principal: identity.Principal})
}

func (c *Connection) handleJoin(msg *Message, data JoinData) {
	player := c.Principal()
	if player == "" {
		c.sendError(msg, ledger.CodeUnauthorized, "Must authenticate first")
		return
	}
	roundID, err := c.deps.Lifecycle.Join(c.ctx, player, data.Option)
	if err != nil {
		c.sendError(msg, ledger.CodeOf(err), err.Error())
		return
	}
	c.reply(msg, MessageTypeJoined, JoinedData{RoundID: roundID, Player: player})
}
