// Package commitment implements the commit-reveal hash that binds a round's
// word to its correct answer text.
package commitment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Size is the length of a commitment digest in bytes.
const Size = sha256.Size

// ErrInvalidDigest is returned by Parse for malformed input.
var ErrInvalidDigest = errors.New("commitment: invalid digest")

// Digest is a SHA-256 commitment.
type Digest [Size]byte

// Commit hashes word followed directly by answer. There is no separator
// between the two; existing commitments depend on that exact byte layout.
func Commit(word, answer string) Digest {
	h := sha256.New()
	h.Write([]byte(word))
	h.Write([]byte(answer))

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Verify reports whether d commits to word and answer.
func Verify(d Digest, word, answer string) bool {
	got := Commit(word, answer)
	return subtle.ConstantTimeCompare(got[:], d[:]) == 1
}

// String returns the 0x-prefixed hex form used by the admin tooling.
func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// FromBytes copies b into a Digest. b must be exactly Size bytes.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidDigest, Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Parse decodes a hex digest with or without a 0x prefix.
func Parse(s string) (Digest, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return FromBytes(b)
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
