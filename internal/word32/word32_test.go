package word32_test

import (
	"math"
	"math/big"
	"testing"

	"github.com/blukai/aochat/internal/word32"
	"github.com/matryer/is"
	"pgregory.net/rapid"
)

func TestReduce(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		in   string
		want int32
	}{
		{"0", 0},
		{"1", 1},
		{"-1", -1},
		{"2147483647", math.MaxInt32},
		{"2147483648", math.MinInt32},
		{"4294967295", -1},
		{"4294967296", 0},
		{"4294967297", 1},
		{"-2147483648", math.MinInt32},
		{"-2147483649", math.MaxInt32},
		{"-4294967296", 0},
		{"2654435769", -1640531527}, // 0x9e3779b9
		{"1311768467463790320", -1698898192},
	}

	for _, tc := range testCases {
		v, ok := new(big.Int).SetString(tc.in, 10)
		is.True(ok)
		is.Equal(word32.Reduce(v), tc.want) // tc.in
	}
}

func TestNegativeToUnsigned(t *testing.T) {
	is := is.New(t)

	is.Equal(word32.NegativeToUnsigned(big.NewInt(-1)).String(), "4294967295")
	is.Equal(word32.NegativeToUnsigned(big.NewInt(-4294967296)).String(), "1095216660480")
	is.Equal(word32.NegativeToUnsigned(big.NewInt(42)).String(), "42")
}

func TestReduceIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int32().Draw(t, "v")
		once := word32.Reduce(big.NewInt(int64(v)))
		if once != v {
			t.Fatalf("reduce(%d) = %d", v, once)
		}
		if twice := word32.Reduce(big.NewInt(int64(once))); twice != once {
			t.Fatalf("reduce not idempotent: %d then %d", once, twice)
		}
	})
}

func TestReduceIgnoresMultiplesOf2To32(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int64().Draw(t, "v")
		k := rapid.Int64Range(-1<<20, 1<<20).Draw(t, "k")

		shifted := new(big.Int).Mul(big.NewInt(k), big.NewInt(1<<32))
		shifted.Add(shifted, big.NewInt(v))

		if got, want := word32.Reduce(shifted), word32.Reduce(big.NewInt(v)); got != want {
			t.Fatalf("reduce(%d + %d*2^32) = %d, want %d", v, k, got, want)
		}
		if got, want := word32.ReduceInt64(v), word32.Reduce(big.NewInt(v)); got != want {
			t.Fatalf("ReduceInt64(%d) = %d, want %d", v, got, want)
		}
	})
}

func TestFixUnsigned(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		in, want int64
	}{
		{0, 0},
		{1, 1},
		{123456789, 123456789},
		{math.MaxInt32, math.MaxInt32},
		{math.MinInt32, 1 << 31},
		{-1, math.MaxUint32},
		{3000000000 - (1 << 32), 3000000000},
		{-2, math.MaxUint32 - 1},
		{math.MaxUint32, math.MaxUint32},
	}

	for _, tc := range testCases {
		is.Equal(word32.FixUnsigned(tc.in), tc.want) // tc.in
	}
}

func TestReverseEndianHex(t *testing.T) {
	is := is.New(t)

	is.Equal(word32.ReverseEndianHex(0x01020304), "04030201")
	is.Equal(word32.ReverseEndianHex(0), "00000000")
	is.Equal(word32.ReverseEndianHex(0xdeadbeef), "efbeadde")
}
