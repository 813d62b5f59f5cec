// Package handshake derives the login key the chat server wants in the login
// request.
//
// It is "half" Diffie-Hellman: the server's public value Y is a published
// constant, so only the client picks a fresh exponent x. The client sends
// X = g^x mod N in the clear and uses K = Y^x mod N to encrypt
// "username|seed|password". The server, knowing its own y, recovers K as
// X^y mod N.
package handshake

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/blukai/aochat/internal/bigint"
	"github.com/blukai/aochat/internal/byteorder"
	"github.com/blukai/aochat/internal/chatcrypt"
)

const (
	ExponentBits = 256
	PrefixSize   = 8
	lengthSize   = 4
)

var ErrMalformedKey = errors.New("malformed login key")

// Params are the group parameters, written "0x..." for hex or plain decimal.
type Params struct {
	G string // generator
	N string // 1024-bit prime modulus
	Y string // server public value
}

// DefaultParams returns the constants the live chat servers use.
func DefaultParams() Params {
	return Params{
		G: "0x5",
		N: "0xeca2e8c85d863dcdc26a429a71a9815ad052f6139669dd659f98ae159" +
			"d313d13c6bf2838e10a69b6478b64a24bd054ba8248e8fa778703b41840824" +
			"9440b2c1edd28853e240d8a7e49540b76d120d3b1ad2878b1b99490eb4a2a5" +
			"e84caa8a91cecbdb1aa7c816e8be343246f80c637abc653b893fd91686cf8d" +
			"32d6cfe5f2a6f",
		Y: "0x9c32cc23d559ca90fc31be72df817d0e124769e809f936bc14360ff4b" +
			"ed758f260a0d596584eacbbc2b88bdd410416163e11dbf62173393fbc0c6fe" +
			"fb2d855f1a03dec8e9f105bbad91b3437d8eb73fe2f44159597aa4053cf788" +
			"d2f9d7012fb8d7c4ce3876f7d6cd5d0c31754f4cd96166708641958de54a6d" +
			"ef5657b9f2e92",
	}
}

// WithSecret replaces Y with g^y mod N, for a server that knows its y.
func (p Params) WithSecret(y string) (Params, error) {
	dhY, err := bigint.PowMod(p.G, y, p.N)
	if err != nil {
		return p, fmt.Errorf("could not derive public value: %w", err)
	}
	p.Y = "0x" + dhY
	return p, nil
}

// Canonical checks every parameter and rewrites it as "0x" lowercase hex,
// so values configured in decimal compare and log the same as the
// published constants.
func (p Params) Canonical() (Params, error) {
	for _, field := range []struct {
		name string
		v    *string
	}{{"g", &p.G}, {"n", &p.N}, {"y", &p.Y}} {
		dec, err := bigint.HexToDec(*field.v)
		if err != nil {
			return p, fmt.Errorf("could not parse %s: %w", field.name, err)
		}
		h, err := bigint.DecToHex(dec)
		if err != nil {
			return p, fmt.Errorf("could not format %s: %w", field.name, err)
		}
		*field.v = "0x" + h
	}
	return p, nil
}

type KeyGen struct {
	params Params
	rand   io.Reader
}

// NewKeyGen returns a generator drawing its exponent and plaintext prefix
// from r, or from crypto/rand when r is nil.
func NewKeyGen(params Params, r io.Reader) *KeyGen {
	if r == nil {
		r = rand.Reader
	}
	return &KeyGen{params: params, rand: r}
}

func (kg *KeyGen) randomHex(bits int) (string, error) {
	buf := make([]byte, (bits+7)/8)
	if _, err := io.ReadFull(kg.rand, buf); err != nil {
		return "", fmt.Errorf("could not read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NormalizeKey left-pads a shared secret with zeros, or truncates it, to the
// 32 hex characters the cipher takes.
func NormalizeKey(k string) string {
	if len(k) < chatcrypt.KeyHexLen {
		return strings.Repeat("0", chatcrypt.KeyHexLen-len(k)) + k
	}
	return k[:chatcrypt.KeyHexLen]
}

// Plaintext lays out the credentials the way the server decrypts them:
// prefix, big-endian length, the string, spaces up to a block boundary.
func Plaintext(prefix []byte, username, servkey, password string) []byte {
	str := username + "|" + servkey + "|" + password

	length := PrefixSize + lengthSize + len(str)
	pad := (chatcrypt.BlockSize - length%chatcrypt.BlockSize) % chatcrypt.BlockSize

	plain := make([]byte, 0, length+pad)
	plain = append(plain, prefix[:PrefixSize]...)
	plain = append(plain, byteorder.Htonl(uint32(len(str)))...)
	plain = append(plain, str...)
	plain = append(plain, strings.Repeat(" ", pad)...)

	return plain
}

// GenerateLoginKey returns "<hex X>-<hex ciphertext>".
func (kg *KeyGen) GenerateLoginKey(servkey, username, password string) (string, error) {
	x, err := kg.randomHex(ExponentBits)
	if err != nil {
		return "", fmt.Errorf("could not generate exponent: %w", err)
	}

	dhX, err := bigint.PowMod(kg.params.G, "0x"+x, kg.params.N)
	if err != nil {
		return "", fmt.Errorf("could not compute public value: %w", err)
	}
	dhK, err := bigint.PowMod(kg.params.Y, "0x"+x, kg.params.N)
	if err != nil {
		return "", fmt.Errorf("could not compute shared secret: %w", err)
	}

	prefixHex, err := kg.randomHex(PrefixSize * 8)
	if err != nil {
		return "", fmt.Errorf("could not generate prefix: %w", err)
	}
	prefix, _ := hex.DecodeString(prefixHex)

	plain := Plaintext(prefix, username, servkey, password)
	crypted := chatcrypt.Encrypt(NormalizeKey(dhK), plain)

	return dhX + "-" + crypted, nil
}

type Credentials struct {
	Username string
	Seed     string
	Password string
}

// OpenLoginKey is the server side of GenerateLoginKey: with the private
// exponent y behind params.Y it recovers the plaintext block.
func OpenLoginKey(params Params, y string, loginKey string) ([]byte, error) {
	dhX, crypted, ok := strings.Cut(loginKey, "-")
	if !ok || dhX == "" || crypted == "" {
		return nil, fmt.Errorf("%w: no separator", ErrMalformedKey)
	}

	dhK, err := bigint.PowMod("0x"+dhX, y, params.N)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}

	plain, err := chatcrypt.Decrypt(NormalizeKey(dhK), crypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return plain, nil
}

// ParsePlaintext splits a decrypted block back into credentials.
func ParsePlaintext(plain []byte) (Credentials, error) {
	if len(plain) < PrefixSize+lengthSize {
		return Credentials{}, fmt.Errorf("%w: plaintext of %d bytes", ErrMalformedKey, len(plain))
	}

	n := int(byteorder.Ntohl(plain[PrefixSize : PrefixSize+lengthSize]))
	rest := plain[PrefixSize+lengthSize:]
	if n > len(rest) {
		return Credentials{}, fmt.Errorf("%w: length %d exceeds %d", ErrMalformedKey, n, len(rest))
	}

	parts := strings.SplitN(string(rest[:n]), "|", 3)
	if len(parts) != 3 {
		return Credentials{}, fmt.Errorf("%w: want username|seed|password", ErrMalformedKey)
	}

	return Credentials{Username: parts[0], Seed: parts[1], Password: parts[2]}, nil
}
