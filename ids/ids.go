// Package ids generates and encodes the 64-bit identifiers used for every
// credential entity (users, sessions, PATs, OAuth2 clients, flows).
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"
)

// alphabet is the URL-safe base62 character set used to render ids externally.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// epoch anchors the timestamp component so ids stay monotonic-ish without
// wasting bits on the 1970 era.
var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var sequence uint32

// New returns a fresh, roughly time-ordered, collision-resistant 64-bit id.
//
// Layout (MSB to LSB): 41 bits of milliseconds since epoch, 10 bits of
// per-process sequence, 12 bits of random entropy. This keeps ids sortable
// by creation time (useful for the "active sessions" listing) while staying
// safe against same-millisecond collisions under concurrent issuance.
func New() int64 {
	ms := uint64(time.Since(epoch).Milliseconds()) & ((1 << 41) - 1)
	seq := uint64(atomic.AddUint32(&sequence, 1)) & ((1 << 10) - 1)

	var randBuf [2]byte
	if _, err := rand.Read(randBuf[:]); err != nil {
		panic(fmt.Sprintf("ids: failed to read random entropy: %v", err))
	}
	entropy := uint64(binary.BigEndian.Uint16(randBuf[:])) & ((1 << 12) - 1)

	id := (ms << 22) | (seq << 12) | entropy
	return int64(id & 0x7FFFFFFFFFFFFFFF)
}

// Encode renders an id as a URL-safe base62 string.
func Encode(id int64) string {
	if id == 0 {
		return string(alphabet[0])
	}
	n := uint64(id)
	var buf [16]byte
	i := len(buf)
	base := uint64(len(alphabet))
	for n > 0 {
		i--
		buf[i] = alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// Decode parses a base62 string produced by Encode back into its id.
func Decode(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("ids: empty id string")
	}
	var n uint64
	base := uint64(len(alphabet))
	for _, r := range s {
		idx := strings.IndexRune(alphabet, r)
		if idx < 0 {
			return 0, fmt.Errorf("ids: invalid character %q in id %q", r, s)
		}
		n = n*base + uint64(idx)
	}
	return int64(n & 0x7FFFFFFFFFFFFFFF), nil
}

// NewSecureToken returns a cryptographically random alphanumeric string of
// length n, used for bearer token bodies (the part after the prefix).
func NewSecureToken(n int) string {
	const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	base := big.NewInt(int64(len(tokenAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			panic(fmt.Sprintf("ids: failed to read random entropy: %v", err))
		}
		buf[i] = tokenAlphabet[idx.Int64()]
	}
	return string(buf)
}
