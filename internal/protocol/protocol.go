package protocol

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/blukai/aochat/internal/byteorder"
	"github.com/blukai/aochat/internal/debug"
)

const (
	HeaderSize     = 4 // uint16 (2) + uint16 (2) = 4
	MaxPayloadSize = math.MaxUint16
)

var (
	ErrShortPayload     = errors.New("payload too short")
	ErrPayloadTooLarge  = errors.New("payload exceeds 65535 bytes")
	ErrValueTooLong     = errors.New("value too long for its length prefix")
	ErrSchemaMismatch   = errors.New("args do not match packet schema")
	ErrUnknownArgKind   = errors.New("unknown arg kind")
	ErrShortWrite       = errors.New("short write")
	ErrUnexpectedPacket = errors.New("unexpected packet")

	// ErrMalformedPacket marks a packet that was framed correctly but whose
	// payload does not fit its schema. The stream is still in sync.
	ErrMalformedPacket = errors.New("malformed packet")
)

type Direction uint8

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

type Header struct {
	Type uint16
	Size uint16
}

var (
	_ encoding.BinaryMarshaler   = (*Header)(nil)
	_ encoding.BinaryUnmarshaler = (*Header)(nil)
)

func (h *Header) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}

	buf.Write(byteorder.Htons(h.Type))
	buf.Write(byteorder.Htons(h.Size))

	data := buf.Bytes()
	debug.Assert(len(data) == HeaderSize)

	return data, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("%w: header is %d bytes", ErrShortPayload, len(data))
	}

	h.Type = byteorder.Ntohs(data[0:2])
	h.Size = byteorder.Ntohs(data[2:4])

	return nil
}

// Packet is one framed message. Data always holds the payload exactly as it
// goes over the wire; Args is its decoded form and is nil for types the
// schema table does not know.
type Packet struct {
	Dir  Direction
	Type uint16
	Args []Arg
	Data []byte
}

// NewPacket builds an outgoing (or, in tests and the fake server, incoming)
// packet from typed args and encodes its payload. Args must match the
// schema registered for dir/typ.
func NewPacket(dir Direction, typ uint16, args ...Arg) (*Packet, error) {
	schema, ok := SchemaFor(dir, typ)
	if !ok {
		return nil, fmt.Errorf("%w: no schema for %s packet %d", ErrSchemaMismatch, dir, typ)
	}
	if err := schema.check(args); err != nil {
		return nil, err
	}

	data, err := encodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s args: %w", schema.Name, err)
	}

	return &Packet{Dir: dir, Type: typ, Args: args, Data: data}, nil
}

// MustPacket is NewPacket for args the caller controls.
func MustPacket(dir Direction, typ uint16, args ...Arg) *Packet {
	p, err := NewPacket(dir, typ, args...)
	debug.Assertf(err == nil, "could not build packet %d: %v", typ, err)
	return p
}

// NewRawPacket wraps a payload of any type without decoding it.
func NewRawPacket(dir Direction, typ uint16, data []byte) *Packet {
	return &Packet{Dir: dir, Type: typ, Data: data}
}

// Decode parses payload according to the schema of dir/typ. Unknown types
// decode to a packet with nil Args and the payload kept in Data. A payload
// that does not fit its schema yields the same raw packet together with an
// error wrapping ErrMalformedPacket.
func Decode(dir Direction, typ uint16, payload []byte) (*Packet, error) {
	p := &Packet{Dir: dir, Type: typ, Data: payload}

	schema, ok := SchemaFor(dir, typ)
	if !ok {
		return p, nil
	}

	args, err := decodeArgs(schema.Args, payload)
	if err != nil {
		return p, fmt.Errorf("%w: could not decode %s: %w", ErrMalformedPacket, schema.Name, err)
	}
	p.Args = args

	return p, nil
}

var _ encoding.BinaryMarshaler = (*Packet)(nil)

// MarshalBinary returns header and payload.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if len(p.Data) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	header := &Header{Type: p.Type, Size: uint16(len(p.Data))}
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal header: %w", err)
	}

	data := make([]byte, 0, HeaderSize+len(p.Data))
	data = append(data, headerBytes...)
	data = append(data, p.Data...)

	return data, nil
}

// Name returns the schema name or a placeholder for unknown types.
func (p *Packet) Name() string {
	if schema, ok := SchemaFor(p.Dir, p.Type); ok {
		return schema.Name
	}
	return fmt.Sprintf("Unknown %d", p.Type)
}

func (p *Packet) arg(i int) Arg {
	if i < 0 || i >= len(p.Args) {
		return nil
	}
	return p.Args[i]
}

// ArgInt returns the i-th arg if it is an Int, 0 otherwise.
func (p *Packet) ArgInt(i int) uint32 {
	v, _ := p.arg(i).(Int)
	return uint32(v)
}

// ArgStr returns the i-th arg if it is a Str, "" otherwise.
func (p *Packet) ArgStr(i int) string {
	v, _ := p.arg(i).(Str)
	return string(v)
}

// ArgGroup returns the i-th arg if it is a GroupID.
func (p *Packet) ArgGroup(i int) (GroupID, bool) {
	v, ok := p.arg(i).(GroupID)
	return v, ok
}

func (p *Packet) ArgInts(i int) []uint32 {
	v, _ := p.arg(i).(IntList)
	return v
}

func (p *Packet) ArgStrs(i int) []string {
	v, _ := p.arg(i).(StrList)
	return v
}

// ReadPacket blocks until one whole packet has been read from r. A stream
// that ends before the packet is complete yields io.EOF or
// io.ErrUnexpectedEOF; the protocol has no way to resynchronize after that.
// Schema errors are not fatal: see Decode.
func ReadPacket(r io.Reader, dir Direction) (*Packet, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, err
	}

	header := &Header{}
	if err := header.UnmarshalBinary(headerBytes); err != nil {
		return nil, fmt.Errorf("could not unmarshal header: %w", err)
	}

	payload := make([]byte, header.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Decode(dir, header.Type, payload)
}

// WritePacket writes p in a single call. Anything less than the whole
// packet is reported as an error.
func WritePacket(w io.Writer, p *Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("could not marshal packet: %w", err)
	}

	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data))
	}

	return nil
}

// ExpectType is the handshake's check that a reply has the right type.
func ExpectType(p *Packet, want uint16) error {
	if p.Type != want {
		return fmt.Errorf(
			"%w: received unexpected packet back (got %d; want %d)",
			ErrUnexpectedPacket,
			p.Type,
			want,
		)
	}
	return nil
}
