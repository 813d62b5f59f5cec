// Package word32 pins arbitrary integers to the 32-bit words the chat server
// works with.
//
// Values reach the client as signed or unsigned depending on which side of
// the protocol produced them, so every quantity that is really a 32-bit
// register has to be folded back into one canonical form before it is
// compared, hashed or encoded.
package word32

import (
	"encoding/hex"
	"math"
	"math/big"

	"github.com/blukai/aochat/internal/byteorder"
)

var (
	bit31 = big.NewInt(1 << 31)
	bit32 = big.NewInt(1 << 32)
	ones  = big.NewInt(math.MaxUint32)
	b256  = big.NewInt(0x100)
	b255  = big.NewInt(0xff)
)

// NegativeToUnsigned returns the two's-complement pattern of a negative v
// read as an unsigned number, using the smallest width of at least four
// bytes that holds |v|. Non-negative values are returned unchanged.
func NegativeToUnsigned(v *big.Int) *big.Int {
	if v.Sign() >= 0 {
		return new(big.Int).Set(v)
	}

	mag := new(big.Int).Neg(v)
	higher := new(big.Int).Set(ones)
	for mag.Cmp(higher) > 0 {
		higher.Mul(higher, b256)
		higher.Add(higher, b255)
	}

	out := higher.Sub(higher, mag)
	return out.Add(out, big.NewInt(1))
}

// Reduce folds v into a signed 32-bit value: negatives are taken as their
// unsigned pattern, every multiple of 2^32 is removed, and a remainder with
// bit 31 set comes back negative.
func Reduce(v *big.Int) int32 {
	n := NegativeToUnsigned(v)
	n.Mod(n, bit32)
	if n.Cmp(bit31) >= 0 {
		n.Sub(n, bit32)
	}
	return int32(n.Int64())
}

// ReduceInt64 is Reduce for values that already fit a machine word.
func ReduceInt64(v int64) int32 {
	return int32(v)
}

// Unsigned reinterprets a signed word.
func Unsigned(v int32) uint32 {
	return uint32(v)
}

// Signed reinterprets an unsigned word.
func Signed(v uint32) int32 {
	return int32(v)
}

// FixUnsigned undoes the server's habit of handing out ids with the top bit
// set that a signed decoder then reads as negative. Every negative input is
// mapped to its unsigned 32-bit pattern; non-negative input is returned as
// is.
func FixUnsigned(n int64) int64 {
	if n >= 0 {
		return n
	}
	return int64(Unsigned(ReduceInt64(n)))
}

// ReverseEndianHex emits the four bytes of v least significant first, as
// lowercase hex. The result does not depend on the host byte order.
func ReverseEndianHex(v uint32) string {
	return hex.EncodeToString(byteorder.Htovl(v))
}
