// Package opaqueid encodes numeric identifiers into short non-sequential
// tokens for public URLs and vendor-facing references. The mapping is
// reversible and stateless: multiply by an odd constant modulo 2^64, mask,
// then render in a confusion-free base-32 alphabet.
package opaqueid

import (
	"errors"
	"strings"
)

// No 0/O, 1/I/l or vowels, so tokens stay unambiguous and never spell words.
const defaultAlphabet = "23456789bcdfghjkmnpqrstvwxyz"

var ErrInvalidToken = errors.New("invalid opaque token")

// Codec obfuscates uint64 identifiers. Two codecs with the same key produce
// the same tokens, so services can share one key via config.
type Codec struct {
	multiplier uint64
	inverse    uint64
	mask       uint64
	alphabet   string
	index      map[byte]uint64
}

// New builds a codec from a key. The key is forced odd so a modular inverse
// exists.
func New(key uint64) *Codec {
	multiplier := key | 1
	c := &Codec{
		multiplier: multiplier,
		inverse:    modInverse(multiplier),
		mask:       key * 0x9e3779b97f4a7c15,
		alphabet:   defaultAlphabet,
		index:      make(map[byte]uint64, len(defaultAlphabet)),
	}
	for i := 0; i < len(c.alphabet); i++ {
		c.index[c.alphabet[i]] = uint64(i)
	}
	return c
}

// modInverse finds x so that a*x == 1 (mod 2^64), via Newton iteration.
// a must be odd.
func modInverse(a uint64) uint64 {
	x := a // 3 correct bits to start
	for i := 0; i < 6; i++ {
		x *= 2 - a*x
	}
	return x
}

// Encode turns an identifier into a token.
func (c *Codec) Encode(id uint64) string {
	n := id*c.multiplier ^ c.mask
	base := uint64(len(c.alphabet))
	var sb strings.Builder
	for {
		sb.WriteByte(c.alphabet[n%base])
		n /= base
		if n == 0 {
			break
		}
	}
	// digits were emitted least-significant first
	token := []byte(sb.String())
	for i, j := 0, len(token)-1; i < j; i, j = i+1, j-1 {
		token[i], token[j] = token[j], token[i]
	}
	return string(token)
}

// Decode reverses Encode. Unknown characters or overflow yield
// ErrInvalidToken.
func (c *Codec) Decode(token string) (uint64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	base := uint64(len(c.alphabet))
	var n uint64
	for i := 0; i < len(token); i++ {
		digit, ok := c.index[token[i]]
		if !ok {
			return 0, ErrInvalidToken
		}
		next := n*base + digit
		if next < n {
			return 0, ErrInvalidToken
		}
		n = next
	}
	return (n ^ c.mask) * c.inverse, nil
}
