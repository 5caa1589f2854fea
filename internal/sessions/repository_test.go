package sessions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateJoinCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := generateJoinCode()
		require.NoError(t, err)
		assert.Len(t, code, joinCodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(joinCodeAlphabet, ch),
				"code %q contains %q outside the alphabet", code, ch)
		}
		seen[code] = struct{}{}
	}
	// 31^6 possible codes; 200 draws colliding would point at broken
	// randomness rather than bad luck.
	assert.Greater(t, len(seen), 190)
}

func TestJoinCodeAlphabetSkipsAmbiguousCharacters(t *testing.T) {
	for _, ch := range "ILO01" {
		assert.NotContains(t, joinCodeAlphabet, string(ch))
	}
}
