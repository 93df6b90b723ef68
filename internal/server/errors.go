package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lox/wordchain/internal/auth"
	"github.com/lox/wordchain/internal/ledger"
)

// errUnauthenticated marks requests without a usable token. It maps to 401
// while ledger.ErrUnauthorized (a known caller without rights) maps to 403.
var errUnauthenticated = fmt.Errorf("%w: authentication required", ledger.ErrUnauthorized)

func authError(err error) error {
	if errors.Is(err, auth.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ledger.ErrRemoteUnavailable, err)
	}
	return errUnauthenticated
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrInvalidOption),
		errors.Is(err, ledger.ErrOptionMismatch),
		errors.Is(err, ledger.ErrCommitmentMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyGuessed),
		errors.Is(err, ledger.ErrRoundNotEnded),
		errors.Is(err, ledger.ErrAlreadyRevealed),
		errors.Is(err, ledger.ErrNoActiveRound),
		errors.Is(err, ledger.ErrRoundInProgress):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
