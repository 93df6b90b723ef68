package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	v := NewStatic(map[string]string{"ST1ADMIN": "admin-token", "alice": "alice-token", "ghost": ""})
	assert.Equal(t, 2, v.Len())

	id, err := v.Validate(context.Background(), "alice-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Principal)

	_, err = v.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidator_ValidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Token == "valid-token" {
			json.NewEncoder(w).Encode(validateResponse{Valid: true, Principal: "ST2PLAYER", Name: "player"})
		} else {
			json.NewEncoder(w).Encode(validateResponse{Valid: false})
		}
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL, "", 0)

	identity, err := validator.Validate(context.Background(), "valid-token")
	require.NoError(t, err)
	assert.Equal(t, "ST2PLAYER", identity.Principal)
	assert.Equal(t, "player", identity.Name)

	_, err = validator.Validate(context.Background(), "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidator_EmptyToken(t *testing.T) {
	validator := NewHTTPValidator("http://localhost:9999", "", 0)
	_, err := validator.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidator_StatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidToken},
		{http.StatusForbidden, ErrInvalidToken},
		{http.StatusTooManyRequests, ErrUnavailable},
		{http.StatusInternalServerError, ErrUnavailable},
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusTeapot, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewHTTPValidator(server.URL, "", 0).Validate(context.Background(), "token")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPValidator_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := NewHTTPValidator(server.URL, "", 20*time.Millisecond).Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPValidator_AdminSecret(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Admin-Secret")
		json.NewEncoder(w).Encode(validateResponse{Valid: true, Principal: "p"})
	}))
	defer server.Close()

	_, err := NewHTTPValidator(server.URL, "s3cret", 0).Validate(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestHTTPValidator_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	_, err := NewHTTPValidator(server.URL, "", 0).Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fixedValidator struct {
	id  *Identity
	err error
}

func (f fixedValidator) Validate(context.Context, string) (*Identity, error) { return f.id, f.err }

func TestChain(t *testing.T) {
	alice := &Identity{Principal: "alice"}
	unavailable := fmt.Errorf("%w: down", ErrUnavailable)

	tests := []struct {
		name  string
		chain Chain
		want  *Identity
		err   error
	}{
		{"first accepts", Chain{fixedValidator{id: alice}, fixedValidator{err: ErrInvalidToken}}, alice, nil},
		{"falls through", Chain{fixedValidator{err: ErrInvalidToken}, fixedValidator{id: alice}}, alice, nil},
		{"all reject", Chain{fixedValidator{err: ErrInvalidToken}}, nil, ErrInvalidToken},
		{"unavailable wins over reject", Chain{fixedValidator{err: unavailable}, fixedValidator{err: ErrInvalidToken}}, nil, ErrUnavailable},
		{"empty", Chain{}, nil, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.chain.Validate(context.Background(), "token")
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestInsecure(t *testing.T) {
	id, err := Insecure{}.Validate(context.Background(), "ST3DEV")
	require.NoError(t, err)
	assert.Equal(t, "ST3DEV", id.Principal)

	_, err = Insecure{}.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", TokenFromRequest(r))
}
