// Package chatcrypt implements the block cipher the chat server expects the
// login credentials to be wrapped in.
//
// The permutation is a 32-cycle Feistel network over two 32-bit words keyed
// by four 32-bit subkeys. Words are read from and written to the byte stream
// least significant byte first. Messages are chained block to block
// (CBC with a zero IV) and the ciphertext travels as lowercase hex.
package chatcrypt

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/blukai/aochat/internal/byteorder"
	"github.com/blukai/aochat/internal/debug"
	"github.com/blukai/aochat/internal/word32"
)

const (
	Delta     uint32 = 0x9e3779b9
	Cycles           = 32
	BlockSize        = 8
	KeySize          = 16
	KeyHexLen        = KeySize * 2
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Key holds the four subkeys.
type Key [4]uint32

// ParseKey decodes a 32 character hex key. Anything else is a programming
// error: the handshake always normalizes the shared secret to that length.
func ParseKey(hexKey string) Key {
	debug.Assertf(len(hexKey) == KeyHexLen, "key must be %d hex chars, got %d", KeyHexLen, len(hexKey))

	raw, err := hex.DecodeString(hexKey)
	debug.Assertf(err == nil, "key is not hex: %v", err)

	var k Key
	copy(k[:], byteorder.VtohlSlice(raw))
	return k
}

// Permute runs the forward permutation over one block. uint32 arithmetic
// wraps at 2^32, which is the truncation every intermediate sum needs.
func Permute(v [2]uint32, k Key) [2]uint32 {
	a, b := v[0], v[1]
	var c uint32

	for range Cycles {
		c += Delta
		a += ((b << 4) + k[0]) ^ (b + c) ^ ((b >> 5) + k[1])
		b += ((a << 4) + k[2]) ^ (a + c) ^ ((a >> 5) + k[3])
	}

	return [2]uint32{a, b}
}

// Unpermute inverts Permute.
func Unpermute(v [2]uint32, k Key) [2]uint32 {
	a, b := v[0], v[1]
	delta := Delta
	c := delta * Cycles

	for range Cycles {
		b -= ((a << 4) + k[2]) ^ (a + c) ^ ((a >> 5) + k[3])
		a -= ((b << 4) + k[0]) ^ (b + c) ^ ((b >> 5) + k[1])
		c -= Delta
	}

	return [2]uint32{a, b}
}

// Encrypt chains plain through Permute and returns the ciphertext as hex.
// len(plain) must be a multiple of BlockSize.
func Encrypt(hexKey string, plain []byte) string {
	debug.Assertf(len(plain)%BlockSize == 0, "plaintext length %d is not a multiple of %d", len(plain), BlockSize)
	k := ParseKey(hexKey)

	sb := strings.Builder{}
	sb.Grow(len(plain) * 2)

	prev := [2]uint32{0, 0}
	for off := 0; off < len(plain); off += BlockSize {
		now := [2]uint32{
			byteorder.Vtohl(plain[off:off+4]) ^ prev[0],
			byteorder.Vtohl(plain[off+4:off+8]) ^ prev[1],
		}
		prev = Permute(now, k)

		sb.WriteString(word32.ReverseEndianHex(prev[0]))
		sb.WriteString(word32.ReverseEndianHex(prev[1]))
	}

	return sb.String()
}

// Decrypt reverses Encrypt. Unlike Encrypt it validates its input, because
// the ciphertext comes off the wire.
func Decrypt(hexKey string, cipherHex string) ([]byte, error) {
	k := ParseKey(hexKey)

	raw, err := hex.DecodeString(cipherHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	if len(raw)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidCiphertext, len(raw), BlockSize)
	}

	plain := make([]byte, 0, len(raw))
	prev := [2]uint32{0, 0}
	for off := 0; off < len(raw); off += BlockSize {
		cur := [2]uint32{
			byteorder.Vtohl(raw[off : off+4]),
			byteorder.Vtohl(raw[off+4 : off+8]),
		}
		p := Unpermute(cur, k)

		plain = append(plain, byteorder.Htovl(p[0]^prev[0])...)
		plain = append(plain, byteorder.Htovl(p[1]^prev[1])...)
		prev = cur
	}

	return plain, nil
}
