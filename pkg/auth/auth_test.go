package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	v := NewHMACVerifier([]string{"k1"})
	got, err := v.Verify(Sign("u_123", "k1"))
	require.NoError(t, err)
	assert.Equal(t, "u_123", got)
}

func TestVerifyWrongKey(t *testing.T) {
	v := NewHMACVerifier([]string{"k1"})
	_, err := v.Verify(Sign("u_123", "other"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTamperedUserID(t *testing.T) {
	v := NewHMACVerifier([]string{"k1"})
	tok := Sign("u_123", "k1")
	_, err := v.Verify("u_456" + tok[strings.LastIndexByte(tok, '.'):])
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMalformed(t *testing.T) {
	v := NewHMACVerifier([]string{"k1"})
	for _, tok := range []string{"", "noseparator", ".abc", "u_123.", "u_123.not-hex"} {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

// Dotted user ids split on the last separator, so the id itself may
// contain dots.
func TestVerifyDottedUserID(t *testing.T) {
	v := NewHMACVerifier([]string{"k1"})
	got, err := v.Verify(Sign("team.alpha", "k1"))
	require.NoError(t, err)
	assert.Equal(t, "team.alpha", got)
}

func TestKeyRotation(t *testing.T) {
	old := Sign("u_123", "k-old")

	v := NewHMACVerifier([]string{"k-new", "k-old"})
	got, err := v.Verify(old)
	require.NoError(t, err)
	assert.Equal(t, "u_123", got)

	got, err = v.Verify(Sign("u_123", "k-new"))
	require.NoError(t, err)
	assert.Equal(t, "u_123", got)
}

func TestNoKeysRejectsEverything(t *testing.T) {
	v := NewHMACVerifier([]string{"", "   "})
	_, err := v.Verify(Sign("u_123", ""))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
