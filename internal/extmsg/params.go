package extmsg

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/blukai/aochat/internal/byteorder"
	"github.com/blukai/aochat/internal/word32"
)

var (
	ErrShortBuffer = errors.New("extended message truncated")
	ErrUnknownTag  = errors.New("unknown parameter tag")
)

// Base85Size is the width of one encoded integer.
const Base85Size = 5

// Parameter tags.
const (
	TagLongString  byte = 'S' // uint16 length + bytes
	TagShortString byte = 's' // uint8 length (counting itself) + bytes
	TagInt         byte = 'I' // raw int32, big-endian
	TagSigned      byte = 'i' // base85
	TagUnsigned    byte = 'u' // base85
	TagReference   byte = 'R' // base85 category + base85 instance
	TagNotice      byte = 'l' // raw uint32 instance in NoticeCategory
	TagEnd         byte = '~'
)

type ParamKind uint8

const (
	ParamString ParamKind = iota
	ParamInt
	ParamResolved
)

func (k ParamKind) String() string {
	switch k {
	case ParamString:
		return "string"
	case ParamInt:
		return "int"
	case ParamResolved:
		return "resolved"
	default:
		return fmt.Sprintf("ParamKind(%d)", uint8(k))
	}
}

// Param is one decoded argument. Str is set for ParamString and
// ParamResolved, Int for ParamInt.
type Param struct {
	Kind ParamKind
	Str  string
	Int  int64
}

func StringParam(s string) Param   { return Param{Kind: ParamString, Str: s} }
func IntParam(n int64) Param       { return Param{Kind: ParamInt, Int: n} }
func ResolvedParam(s string) Param { return Param{Kind: ParamResolved, Str: s} }

func (p Param) String() string {
	if p.Kind == ParamInt {
		return strconv.FormatInt(p.Int, 10)
	}
	return p.Str
}

// intValue reads a number the way the template dialect does: strings
// contribute their leading integer, or 0.
func (p Param) intValue() int64 {
	if p.Kind == ParamInt {
		return p.Int
	}
	s := strings.TrimLeft(p.Str, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && '0' <= s[end] && s[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (p Param) floatValue() float64 {
	if p.Kind == ParamInt {
		return float64(p.Int)
	}
	s := strings.TrimSpace(p.Str)
	for end := len(s); end > 0; end-- {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f
		}
	}
	return 0
}

// Reader walks an extended message.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.pos
}

func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// HasPrefix reports whether the unread bytes start with p.
func (r *Reader) HasPrefix(p string) bool {
	return r.Len() >= len(p) && string(r.buf[r.pos:r.pos+len(p)]) == p
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.pos, r.Len())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Base85 decodes the next five bytes as a big-radix-85 number, each byte
// holding a digit offset by 33.
func (r *Reader) Base85() (int64, error) {
	b, err := r.take(Base85Size)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, c := range b {
		n = n*85 + int64(c) - 33
	}
	return n, nil
}

// AppendBase85 encodes n the way Base85 reads it.
func AppendBase85(dst []byte, n uint32) []byte {
	var digits [Base85Size]byte
	v := uint64(n)
	for i := Base85Size - 1; i >= 0; i-- {
		digits[i] = byte(v%85) + 33
		v /= 85
	}
	return append(dst, digits[:]...)
}

// ParseParams decodes tagged parameters up to the end tag or the end of
// the buffer. Reference parameters are resolved through the catalog.
func ParseParams(r *Reader, catalog Catalog) ([]Param, error) {
	var params []Param

	for r.Len() > 0 {
		tag, _ := r.byte()

		switch tag {
		case TagLongString:
			b, err := r.take(2)
			if err != nil {
				return nil, err
			}
			s, err := r.take(int(byteorder.Ntohs(b)))
			if err != nil {
				return nil, err
			}
			params = append(params, StringParam(string(s)))

		case TagShortString:
			n, err := r.byte()
			if err != nil {
				return nil, err
			}
			s, err := r.take(int(n) - 1)
			if err != nil {
				return nil, err
			}
			params = append(params, StringParam(string(s)))

		case TagInt:
			b, err := r.take(4)
			if err != nil {
				return nil, err
			}
			params = append(params, IntParam(int64(word32.Signed(byteorder.Ntohl(b)))))

		case TagSigned, TagUnsigned:
			n, err := r.Base85()
			if err != nil {
				return nil, err
			}
			params = append(params, IntParam(n))

		case TagReference:
			cat, err := r.Base85()
			if err != nil {
				return nil, err
			}
			ins, err := r.Base85()
			if err != nil {
				return nil, err
			}
			params = append(params, ResolvedParam(resolve(catalog, cat, ins)))

		case TagNotice:
			b, err := r.take(4)
			if err != nil {
				return nil, err
			}
			params = append(params, ResolvedParam(resolve(catalog, int64(NoticeCategory), int64(byteorder.Ntohl(b)))))

		case TagEnd:
			return params, nil

		default:
			return nil, fmt.Errorf("%w %q at offset %d", ErrUnknownTag, tag, r.pos-1)
		}
	}

	return params, nil
}

func resolve(catalog Catalog, category, instance int64) string {
	if s, ok := lookupTemplate(catalog, category, instance); ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d, %d)", category, instance)
}

// lookupTemplate finds a catalog entry. Catalog keys are 32 bits wide, so
// anything larger has no entry.
func lookupTemplate(catalog Catalog, category, instance int64) (string, bool) {
	if catalog == nil {
		return "", false
	}
	if category < 0 || category > math.MaxUint32 || instance < 0 || instance > math.MaxUint32 {
		return "", false
	}
	return catalog.MessageString(uint32(category), uint32(instance))
}
