package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("wordchain: unauthorized")
	ErrValidation         = errors.New("wordchain: validation error")
	ErrInsufficientFunds  = errors.New("wordchain: insufficient funds")
	ErrAlreadyGuessed     = errors.New("wordchain: already guessed")
	ErrInvalidOption      = errors.New("wordchain: invalid option")
	ErrRoundNotEnded      = errors.New("wordchain: round not ended")
	ErrAlreadyRevealed    = errors.New("wordchain: already revealed")
	ErrCommitmentMismatch = errors.New("wordchain: commitment mismatch")
	ErrNoActiveRound      = errors.New("wordchain: no active round")
	ErrRoundInProgress    = errors.New("wordchain: round in progress")
	ErrOptionMismatch     = errors.New("wordchain: option mismatch")
	ErrRoundNotFound      = errors.New("wordchain: round not found")

	// ErrRemoteUnavailable indicates a ledger call failed or timed out.
	// Callers may retry; it is never fatal to the process.
	ErrRemoteUnavailable = errors.New("wordchain: remote unavailable")
)

// Code is the stable numeric identifier of an error on the wire. The low
// values match the codes returned by the deployed contract.
type Code uint32

const (
	CodeUnauthorized       Code = 100
	CodeValidation         Code = 101
	CodeInsufficientFunds  Code = 102
	CodeAlreadyGuessed     Code = 103
	CodeInvalidOption      Code = 104
	CodeRoundNotEnded      Code = 105
	CodeAlreadyRevealed    Code = 106
	CodeCommitmentMismatch Code = 107
	CodeNoActiveRound      Code = 108
	CodeRoundInProgress    Code = 109
	CodeOptionMismatch     Code = 110
	CodeRoundNotFound      Code = 111
	CodeRemoteUnavailable  Code = 112
)

var codeTable = []struct {
	code Code
	err  error
}{
	{CodeUnauthorized, ErrUnauthorized},
	{CodeValidation, ErrValidation},
	{CodeInsufficientFunds, ErrInsufficientFunds},
	{CodeAlreadyGuessed, ErrAlreadyGuessed},
	{CodeInvalidOption, ErrInvalidOption},
	{CodeRoundNotEnded, ErrRoundNotEnded},
	{CodeAlreadyRevealed, ErrAlreadyRevealed},
	{CodeCommitmentMismatch, ErrCommitmentMismatch},
	{CodeNoActiveRound, ErrNoActiveRound},
	{CodeRoundInProgress, ErrRoundInProgress},
	{CodeOptionMismatch, ErrOptionMismatch},
	{CodeRoundNotFound, ErrRoundNotFound},
	{CodeRemoteUnavailable, ErrRemoteUnavailable},
}

// CodeOf returns the code for the first taxonomy error found in err's chain,
// or 0 when err does not belong to the taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return 0
}

// FromCode rebuilds an error received over the wire so that errors.Is keeps
// working on the caller's side. Unknown codes wrap nothing.
func FromCode(code Code, message string) error {
	for _, entry := range codeTable {
		if entry.code == code {
			if message == "" || message == entry.err.Error() {
				return entry.err
			}
			return &remoteError{sentinel: entry.err, message: message}
		}
	}
	if message == "" {
		message = fmt.Sprintf("error code %d", code)
	}
	return errors.New(message)
}

type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.sentinel }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
