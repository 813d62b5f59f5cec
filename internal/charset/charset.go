// Package charset converts between UTF-8 and the 8-bit charset the chat
// server and its message catalog use.
package charset

import (
	"golang.org/x/text/encoding/charmap"
)

var server = charmap.Windows1252

// Encode converts s to server bytes. Runes the charset cannot represent
// make the whole string pass through unchanged.
func Encode(s string) string {
	b, err := server.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return s
	}
	return string(b)
}

// Decode converts server bytes to UTF-8.
func Decode(s string) string {
	b, err := server.NewDecoder().Bytes([]byte(s))
	if err != nil {
		return s
	}
	return string(b)
}
