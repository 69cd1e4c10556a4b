package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []int64{0, 1, 62, 63, 1 << 20, 1<<62 - 1}
	for _, n := range cases {
		got, err := Decode(Encode(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[int64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		_, dup := seen[id]
		assert.False(t, dup, "id collision at iteration %d", i)
		seen[id] = struct{}{}
	}
}

func TestDecodeRejectsInvalidCharacters(t *testing.T) {
	_, err := Decode("not!valid")
	assert.Error(t, err)
}

func TestNewSecureTokenLength(t *testing.T) {
	tok := NewSecureToken(60)
	assert.Len(t, tok, 60)
}
