package protocol

import (
	"bytes"
	"encoding"
	"fmt"
	"math"

	"github.com/blukai/aochat/internal/byteorder"
)

// Kind is the schema letter of an argument.
type Kind byte

const (
	KindInt     Kind = 'I' // uint32
	KindStr     Kind = 'S' // uint16 length + bytes
	KindGroup   Kind = 'G' // 5 raw bytes
	KindIntList Kind = 'i' // uint16 count + count uint32s
	KindStrList Kind = 's' // uint16 count + count Strs
	KindRaw     Kind = 'B' // rest of the payload
)

type Arg interface {
	encoding.BinaryMarshaler
	Kind() Kind
}

type Int uint32

func (Int) Kind() Kind { return KindInt }

func (n Int) MarshalBinary() ([]byte, error) {
	return byteorder.Htonl(uint32(n)), nil
}

// Str carries raw bytes; the chat server does not speak UTF-8.
type Str string

func (Str) Kind() Kind { return KindStr }

func (s Str) MarshalBinary() ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: string of %d bytes", ErrValueTooLong, len(s))
	}
	buf := make([]byte, 0, 2+len(s))
	buf = append(buf, byteorder.Htons(uint16(len(s)))...)
	return append(buf, s...), nil
}

const GroupIDSize = 5

// GroupID identifies a public channel. The first byte is the channel type
// (3 is the org channel), the rest is a big-endian instance number.
type GroupID [GroupIDSize]byte

func (GroupID) Kind() Kind { return KindGroup }

func (g GroupID) MarshalBinary() ([]byte, error) {
	return g[:], nil
}

func (g GroupID) Type() byte {
	return g[0] &^ 0x80
}

func (g GroupID) String() string {
	return fmt.Sprintf("%x", g[:])
}

// ParseGroupID reports whether s has the shape of a raw group id: five
// bytes with a channel type below 0x10.
func ParseGroupID(s string) (GroupID, bool) {
	var g GroupID
	if len(s) != GroupIDSize || s[0]&^0x80 >= 0x10 {
		return g, false
	}
	copy(g[:], s)
	return g, true
}

type IntList []uint32

func (IntList) Kind() Kind { return KindIntList }

func (l IntList) MarshalBinary() ([]byte, error) {
	if len(l) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: list of %d ints", ErrValueTooLong, len(l))
	}
	buf := bytes.Buffer{}
	buf.Write(byteorder.Htons(uint16(len(l))))
	for _, n := range l {
		buf.Write(byteorder.Htonl(n))
	}
	return buf.Bytes(), nil
}

type StrList []string

func (StrList) Kind() Kind { return KindStrList }

func (l StrList) MarshalBinary() ([]byte, error) {
	if len(l) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: list of %d strings", ErrValueTooLong, len(l))
	}
	buf := bytes.Buffer{}
	buf.Write(byteorder.Htons(uint16(len(l))))
	for _, s := range l {
		b, err := Str(s).MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// Raw swallows whatever is left of the payload.
type Raw []byte

func (Raw) Kind() Kind { return KindRaw }

func (r Raw) MarshalBinary() ([]byte, error) {
	return r, nil
}

func encodeArgs(args []Arg) ([]byte, error) {
	buf := bytes.Buffer{}
	for i, arg := range args {
		b, err := arg.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		buf.Write(b)
	}
	if buf.Len() > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return buf.Bytes(), nil
}

type argReader struct {
	data []byte
	pos  int
}

func (r *argReader) take(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.pos < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPayload, n, r.pos, len(r.data)-r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *argReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return byteorder.Ntohs(b), nil
}

func (r *argReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return byteorder.Ntohl(b), nil
}

func (r *argReader) str() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *argReader) read(kind Kind) (Arg, error) {
	switch kind {
	case KindInt:
		n, err := r.uint32()
		return Int(n), err
	case KindStr:
		s, err := r.str()
		return Str(s), err
	case KindGroup:
		b, err := r.take(GroupIDSize)
		if err != nil {
			return nil, err
		}
		var g GroupID
		copy(g[:], b)
		return g, nil
	case KindIntList:
		count, err := r.uint16()
		if err != nil {
			return nil, err
		}
		l := make(IntList, 0, count)
		for range count {
			n, err := r.uint32()
			if err != nil {
				return nil, err
			}
			l = append(l, n)
		}
		return l, nil
	case KindStrList:
		count, err := r.uint16()
		if err != nil {
			return nil, err
		}
		l := make(StrList, 0, count)
		for range count {
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			l = append(l, s)
		}
		return l, nil
	case KindRaw:
		rest := make(Raw, len(r.data)-r.pos)
		copy(rest, r.data[r.pos:])
		r.pos = len(r.data)
		return rest, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownArgKind, kind)
	}
}

func decodeArgs(kinds string, payload []byte) ([]Arg, error) {
	r := &argReader{data: payload}
	args := make([]Arg, 0, len(kinds))
	for i := 0; i < len(kinds); i++ {
		arg, err := r.read(Kind(kinds[i]))
		if err != nil {
			return nil, fmt.Errorf("arg %d (%c): %w", i, kinds[i], err)
		}
		args = append(args, arg)
	}
	return args, nil
}
