package opaqueid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c := New(0x5eed1234)
	ids := []uint64{0, 1, 2, 42, 1000, 99999999, 1<<32 + 7, 1<<63 + 12345}
	for _, id := range ids {
		token := c.Encode(id)
		require.NotEmpty(t, token)
		got, err := c.Decode(token)
		require.NoError(t, err, "token %q", token)
		assert.Equal(t, id, got)
	}
}

func TestTokensAreNotSequential(t *testing.T) {
	c := New(0x5eed1234)
	a := c.Encode(100)
	b := c.Encode(101)
	assert.NotEqual(t, a, b)
	// neighbouring ids must not produce neighbouring tokens
	assert.NotEqual(t, a[:len(a)-1], b[:len(b)-1])
}

func TestSameKeySameTokens(t *testing.T) {
	assert.Equal(t, New(777).Encode(5), New(777).Encode(5))
	assert.NotEqual(t, New(777).Encode(5), New(778).Encode(5))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := New(0x5eed1234)
	_, err := c.Decode("")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.Decode("has spaces")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.Decode("O0Il")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAlphabetExcludesAmbiguousCharacters(t *testing.T) {
	for _, ch := range "0O1Iloaeiu" {
		assert.NotContains(t, defaultAlphabet, string(ch))
	}
}
