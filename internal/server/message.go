package server

import (
	"encoding/json"
	"time"

	"github.com/lox/wordchain/internal/ledger"
	"github.com/lox/wordchain/internal/settlement"
)

// MessageType identifies a websocket message.
type MessageType string

const (
	// Client → Server
	MessageTypeAuth MessageType = "auth"
	MessageTypeJoin MessageType = "join"
	MessageTypePing MessageType = "ping"

	// Server → Client
	MessageTypeAuthResponse   MessageType = "auth_response"
	MessageTypeJoined         MessageType = "joined"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
	MessageTypeRoundCreated   MessageType = "round_created"
	MessageTypeGuessSubmitted MessageType = "guess_submitted"
	MessageTypeRoundSettled   MessageType = "round_settled"
	MessageTypeConfigChanged  MessageType = "config_changed"
)

func (mt MessageType) String() string {
	return string(mt)
}

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type AuthData struct {
	Token string `json:"token"`
}

type JoinData struct {
	Option uint8 `json:"option"`
}

// Server → Client Messages

type AuthResponseData struct {
	Success   bool   `json:"success"`
	Principal string `json:"principal,omitempty"`
	Error     string `json:"error,omitempty"`
}

type JoinedData struct {
	RoundID uint64 `json:"roundId"`
	Player  string `json:"player"`
}

// ErrorData is also the body of every failed HTTP request.
type ErrorData struct {
	Code    ledger.Code `json:"code"`
	Message string      `json:"message"`
}

type RoundCreatedData struct {
	Round ledger.Round `json:"round"`
}

type GuessSubmittedData struct {
	RoundID          uint64 `json:"roundId"`
	Player           string `json:"player"`
	Pool             uint64 `json:"pool"`
	ParticipantCount uint32 `json:"participantCount"`
}

type RoundSettledData struct {
	Round  ledger.Round       `json:"round"`
	Result ledger.RoundResult `json:"result"`
}

type ConfigChangedData struct {
	Config ledger.GameConfig `json:"config"`
}

// eventMessage converts a ledger event into its broadcast message. Events
// that are not broadcast return nil.
func eventMessage(ev ledger.Event) (*Message, error) {
	switch e := ev.(type) {
	case ledger.RoundCreatedEvent:
		return NewMessage(MessageTypeRoundCreated, RoundCreatedData{Round: e.Round})
	case ledger.GuessSubmittedEvent:
		return NewMessage(MessageTypeGuessSubmitted, GuessSubmittedData{
			RoundID:          e.RoundID,
			Player:           e.Player,
			Pool:             e.Pool,
			ParticipantCount: e.ParticipantCount,
		})
	case ledger.RoundSettledEvent:
		return NewMessage(MessageTypeRoundSettled, RoundSettledData{Round: e.Round, Result: e.Result})
	case ledger.ConfigChangedEvent:
		return NewMessage(MessageTypeConfigChanged, ConfigChangedData{Config: e.Config})
	default:
		return nil, nil
	}
}

// HTTP request bodies.

type CreateRoundRequest struct {
	Word       string   `json:"word"`
	Options    []string `json:"options"`
	Commitment string   `json:"commitment,omitempty"`
	// Answer and Option, when set, are kept so the round can be settled
	// automatically.
	Answer string `json:"answer,omitempty"`
	Option uint8  `json:"option,omitempty"`
}

type GuessRequest struct {
	Option uint8 `json:"option"`
}

type RevealRequest struct {
	Word   string `json:"word"`
	Answer string `json:"answer"`
	Option uint8  `json:"option"`
}

type MintRequest struct {
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
}

type AmountRequest struct {
	Value uint64 `json:"value"`
}

// HTTP response bodies.

// TxResponse acknowledges a state-changing call.
type TxResponse struct {
	TxID   string `json:"txid"`
	Result any    `json:"result"`
}

type StatusResponse struct {
	Height uint64            `json:"height"`
	Config ledger.GameConfig `json:"config"`
}

type RoundCreatedResponse struct {
	RoundID uint64 `json:"roundId"`
}

type GuessResponse struct {
	RoundID uint64 `json:"roundId"`
}

type BalanceResponse struct {
	Player  string `json:"player"`
	Balance uint64 `json:"balance"`
}

type RevealResponse = settlement.Result
