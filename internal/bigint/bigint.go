// Package bigint converts the arbitrary precision numbers of the login key
// exchange between their textual forms and does the modular exponentiation.
//
// Numbers are written the way the protocol constants are published: a
// leading "0x" marks hex, anything else is decimal. Hex output is lowercase
// with no leading zeros and no prefix.
package bigint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidNumber = errors.New("invalid number")

// Parse reads a "0x"-prefixed hex or a plain decimal string.
func Parse(s string) (*big.Int, error) {
	base := 10
	digits := s
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		base = 16
		digits = rest
	}

	n, ok := new(big.Int).SetString(digits, base)
	if !ok || digits == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return n, nil
}

// MustParse is Parse for compile-time constants.
func MustParse(s string) *big.Int {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// HexToDec converts a "0x"-prefixed hex string to decimal. Strings without
// the prefix are taken to be decimal already and are returned after
// validation.
func HexToDec(s string) (string, error) {
	n, err := Parse(s)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// DecToHex converts a decimal string to unprefixed lowercase hex.
func DecToHex(s string) (string, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return Hex(n), nil
}

// Hex formats n as unprefixed lowercase hex.
func Hex(n *big.Int) string {
	return n.Text(16)
}

// PowMod computes base^exp mod m. Each operand may be hex ("0x...") or
// decimal; the result is unprefixed hex.
func PowMod(base, exp, m string) (string, error) {
	b, err := Parse(base)
	if err != nil {
		return "", fmt.Errorf("could not parse base: %w", err)
	}
	e, err := Parse(exp)
	if err != nil {
		return "", fmt.Errorf("could not parse exponent: %w", err)
	}
	mod, err := Parse(m)
	if err != nil {
		return "", fmt.Errorf("could not parse modulus: %w", err)
	}
	if mod.Sign() <= 0 {
		return "", fmt.Errorf("%w: modulus must be positive", ErrInvalidNumber)
	}

	return Hex(new(big.Int).Exp(b, e, mod)), nil
}
