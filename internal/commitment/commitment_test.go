package commitment

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitConcatenatesWithoutSeparator(t *testing.T) {
	t.Parallel()

	want := sha256.Sum256([]byte("ephemeralLasting a short time"))
	got := Commit("ephemeral", "Lasting a short time")
	assert.Equal(t, Digest(want), got)

	// Moving a byte across the boundary must not change the digest.
	assert.Equal(t, Commit("ab", "c"), Commit("a", "bc"))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	options := [4]string{"Lasting a short time", "Everlasting", "Painful", "Colorful"}
	for correct := 1; correct <= 4; correct++ {
		d := Commit("ephemeral", options[correct-1])
		for i, opt := range options {
			if i == correct-1 {
				assert.True(t, Verify(d, "ephemeral", opt), "option %d should verify", i+1)
			} else {
				assert.False(t, Verify(d, "ephemeral", opt), "option %d should not verify", i+1)
			}
		}
		assert.False(t, Verify(d, "ephemera", options[correct-1]))
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	d := Commit("ubiquitous", "Present everywhere")
	s := d.String()
	require.Len(t, s, 2+2*Size)

	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	parsed, err = Parse(s[2:])
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "0x", "0xzz", "0x" + "00", "0x" + string(make([]byte, 66))} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidDigest, "input %q", in)
	}
}

func TestFromBytesLength(t *testing.T) {
	t.Parallel()

	_, err := FromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidDigest)

	d, err := FromBytes(make([]byte, 32))
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}
