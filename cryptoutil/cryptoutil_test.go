package cryptoutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPassword(t *testing.T) {
	passwords := []string{
		"correct horse",
		"Correct horse",
		"pässwörd!",
		strings.Repeat("a", 100),
		strings.Repeat("a", 100) + "b",
	}

	hashes := make([]string, len(passwords))
	for i, p := range passwords {
		h, err := HashPassword(p)
		require.NoError(t, err)
		hashes[i] = h
	}

	for i, p := range passwords {
		for j, h := range hashes {
			if i == j {
				assert.True(t, VerifyPassword(p, h), "password %d should verify against its own hash", i)
			} else {
				assert.False(t, VerifyPassword(p, h), "password %d verified against hash %d", i, j)
			}
		}
	}
}

func TestVerifyPasswordGarbageHash(t *testing.T) {
	assert.False(t, VerifyPassword("whatever1", "not-a-bcrypt-hash"))
	assert.False(t, VerifyPassword("whatever1", ""))
}

func TestRandomTokensAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		token, err := Random()
		require.NoError(t, err)
		require.False(t, seen[token])
		seen[token] = true

		state, err := CreateState()
		require.NoError(t, err)
		require.NotContains(t, state, "=")
		require.False(t, seen[state])
		seen[state] = true
	}
}

func TestID(t *testing.T) {
	assert.Equal(t, ID("token"), ID("token"))
	assert.NotEqual(t, ID("token"), ID("token2"))
	assert.Len(t, ID("token"), 64)
}

func TestS256CodeChallenge(t *testing.T) {
	// Appendix B of RFC 7636.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CreateS256CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))

	verifier, err := CreateCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, verifier, 43)
}
