// Package auth resolves bearer tokens to ledger identities.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the identity service could not be reached.
	ErrUnavailable = errors.New("auth: unavailable")
)

// DefaultTimeout bounds a remote token check.
const DefaultTimeout = 500 * time.Millisecond

// Identity is the ledger principal a token acts as.
type Identity struct {
	Principal string `json:"principal"`
	Name      string `json:"name,omitempty"`
}

// Validator validates authentication tokens.
type Validator interface {
	// Validate returns the identity for token, ErrInvalidToken if the token
	// is rejected, or ErrUnavailable if the answer could not be obtained.
	Validate(ctx context.Context, token string) (*Identity, error)
}

// Static validates tokens against a fixed table, typically the identity
// blocks of the configuration file.
type Static struct {
	entries []staticEntry
}

type staticEntry struct {
	token    []byte
	identity Identity
}

// NewStatic builds a validator from principal → token pairs.
func NewStatic(tokens map[string]string) *Static {
	s := &Static{}
	for principal, token := range tokens {
		if token == "" {
			continue
		}
		s.entries = append(s.entries, staticEntry{
			token:    []byte(token),
			identity: Identity{Principal: principal, Name: principal},
		})
	}
	return s
}

// Len returns the number of configured tokens.
func (s *Static) Len() int { return len(s.entries) }

func (s *Static) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var match *Identity
	for i := range s.entries {
		// Compare against every entry so timing does not leak which matched.
		if subtle.ConstantTimeCompare(s.entries[i].token, []byte(token)) == 1 {
			id := s.entries[i].identity
			match = &id
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return match, nil
}

// HTTPValidator validates tokens via HTTP callback to an external service.
type HTTPValidator struct {
	url         string
	client      *http.Client
	adminSecret string
	timeout     time.Duration
}

// NewHTTPValidator creates a validator that calls an external HTTP endpoint.
func NewHTTPValidator(url string, adminSecret string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPValidator{
		url:         url,
		adminSecret: adminSecret,
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid     bool   `json:"valid"`
	Principal string `json:"principal,omitempty"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	reqBody, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", v.adminSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var authResp validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	if !authResp.Valid || authResp.Principal == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{Principal: authResp.Principal, Name: authResp.Name}, nil
}

// Chain tries each validator in order. A rejection moves on to the next
// validator; the first identity wins. If no validator accepts the token
// and any was unavailable, the result is ErrUnavailable.
type Chain []Validator

func (c Chain) Validate(ctx context.Context, token string) (*Identity, error) {
	var unavailable error
	for _, v := range c {
		id, err := v.Validate(ctx, token)
		switch {
		case err == nil && id != nil:
			return id, nil
		case errors.Is(err, ErrUnavailable):
			unavailable = err
		}
	}
	if unavailable != nil {
		return nil, unavailable
	}
	return nil, ErrInvalidToken
}

// Insecure treats the token itself as the principal. It is meant for local
// development only.
type Insecure struct{}

func (Insecure) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{Principal: token, Name: token}, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter used by websocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
