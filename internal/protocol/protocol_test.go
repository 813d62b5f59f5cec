package protocol_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/blukai/aochat/internal/protocol"
	"github.com/matryer/is"
	"pgregory.net/rapid"
)

func TestHeaderEncoding(t *testing.T) {
	is := is.New(t)

	originalHeader := protocol.Header{
		Type: protocol.TypePing,
		Size: 42,
	}

	encodedHeaderBytes, err := originalHeader.MarshalBinary()
	is.NoErr(err)
	is.Equal(len(encodedHeaderBytes), protocol.HeaderSize)
	is.Equal(encodedHeaderBytes, []byte{0, 100, 0, 42})

	decodedHeader := protocol.Header{}
	err = decodedHeader.UnmarshalBinary(encodedHeaderBytes)
	is.NoErr(err)
	is.Equal(originalHeader, decodedHeader)

	err = decodedHeader.UnmarshalBinary([]byte{1, 2, 3})
	is.True(errors.Is(err, protocol.ErrShortPayload))
}

func TestPacketEncoding(t *testing.T) {
	is := is.New(t)

	t.Run("no args", func(t *testing.T) {
		p, err := protocol.NewPacket(protocol.Out, protocol.TypePrivgrpKickAll)
		is.NoErr(err)

		b, err := p.MarshalBinary()
		is.NoErr(err)
		is.Equal(b, []byte{0, 54, 0, 0})
	})

	t.Run("with args", func(t *testing.T) {
		p, err := protocol.NewPacket(protocol.Out, protocol.TypeMsgPrivate,
			protocol.Int(0x01020304), protocol.Str("hi"), protocol.Str("\x00"))
		is.NoErr(err)

		b, err := p.MarshalBinary()
		is.NoErr(err)
		is.Equal(b, []byte{
			0, 30, 0, 11,
			1, 2, 3, 4,
			0, 2, 'h', 'i',
			0, 1, 0,
		})
	})

	t.Run("schema mismatch", func(t *testing.T) {
		_, err := protocol.NewPacket(protocol.Out, protocol.TypeMsgPrivate, protocol.Str("oops"))
		is.True(errors.Is(err, protocol.ErrSchemaMismatch))

		_, err = protocol.NewPacket(protocol.Out, protocol.TypeMsgPrivate,
			protocol.Str("a"), protocol.Str("b"), protocol.Str("c"))
		is.True(errors.Is(err, protocol.ErrSchemaMismatch))

		_, err = protocol.NewPacket(protocol.Out, 4242)
		is.True(errors.Is(err, protocol.ErrSchemaMismatch))
	})

	t.Run("too long", func(t *testing.T) {
		_, err := protocol.NewPacket(protocol.Out, protocol.TypePing, protocol.Str(strings.Repeat("x", 70000)))
		is.True(errors.Is(err, protocol.ErrValueTooLong))
	})
}

func TestDecodeCharlist(t *testing.T) {
	is := is.New(t)

	payload := []byte{
		0, 2, 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xfe, // ids
		0, 2, 0, 3, 'b', 'O', 'b', 0, 2, 'a', 'l', // names
		0, 2, 0, 0, 0, 220, 0, 0, 0, 15, // levels
		0, 2, 0, 0, 0, 1, 0, 0, 0, 0, // online
	}

	p, err := protocol.Decode(protocol.In, protocol.TypeLoginCharlist, payload)
	is.NoErr(err)
	is.Equal(p.ArgInts(0), []uint32{1, 0xfffffffe})
	is.Equal(p.ArgStrs(1), []string{"bOb", "al"})
	is.Equal(p.ArgInts(2), []uint32{220, 15})
	is.Equal(p.ArgInts(3), []uint32{1, 0})

	// accessors are forgiving about kind and index
	is.Equal(p.ArgStr(0), "")
	is.Equal(p.ArgInt(42), uint32(0))

	raw, err := protocol.Decode(protocol.In, protocol.TypeLoginCharlist, payload[:15])
	is.True(errors.Is(err, protocol.ErrShortPayload))
	is.True(errors.Is(err, protocol.ErrMalformedPacket))
	is.Equal(raw.Args, nil)
	is.Equal(raw.Data, payload[:15])
}

func TestGroupID(t *testing.T) {
	is := is.New(t)

	g, ok := protocol.ParseGroupID("\x03\x00\x00\x12\x34")
	is.True(ok)
	is.Equal(g.Type(), byte(3))
	is.Equal(g.String(), "0300001234")

	_, ok = protocol.ParseGroupID("\x83\x00\x00\x12\x34")
	is.True(ok)

	_, ok = protocol.ParseGroupID("clan ooc")
	is.True(!ok)
	_, ok = protocol.ParseGroupID("Hello")
	is.True(!ok)
}

func drawArg(t *rapid.T, kind protocol.Kind) protocol.Arg {
	switch kind {
	case protocol.KindInt:
		return protocol.Int(rapid.Uint32().Draw(t, "int"))
	case protocol.KindStr:
		return protocol.Str(rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "str"))
	case protocol.KindGroup:
		var g protocol.GroupID
		copy(g[:], rapid.SliceOfN(rapid.Byte(), 5, 5).Draw(t, "group"))
		return g
	case protocol.KindIntList:
		return protocol.IntList(rapid.SliceOfN(rapid.Uint32(), 0, 8).Draw(t, "ints"))
	case protocol.KindStrList:
		return protocol.StrList(rapid.SliceOfN(rapid.String(), 0, 4).Draw(t, "strs"))
	case protocol.KindRaw:
		return protocol.Raw(rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "raw"))
	}
	t.Fatalf("unhandled kind %c", kind)
	return nil
}

func TestPacketRoundTrip(t *testing.T) {
	for _, dir := range []protocol.Direction{protocol.In, protocol.Out} {
		types := protocol.Types(dir)
		slices.Sort(types)

		t.Run(dir.String(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				typ := rapid.SampledFrom(types).Draw(t, "type")
				schema, _ := protocol.SchemaFor(dir, typ)

				args := make([]protocol.Arg, 0, len(schema.Args))
				for i := 0; i < len(schema.Args); i++ {
					args = append(args, drawArg(t, protocol.Kind(schema.Args[i])))
				}

				original, err := protocol.NewPacket(dir, typ, args...)
				if err != nil {
					t.Fatalf("new packet: %v", err)
				}

				buf := bytes.Buffer{}
				if err := protocol.WritePacket(&buf, original); err != nil {
					t.Fatalf("write: %v", err)
				}

				wire := buf.Bytes()
				if size := int(wire[2])<<8 | int(wire[3]); size != len(original.Data) || size != len(wire)-protocol.HeaderSize {
					t.Fatalf("header size %d, payload %d", size, len(original.Data))
				}

				decoded, err := protocol.ReadPacket(iotest.OneByteReader(&buf), dir)
				if err != nil {
					t.Fatalf("read: %v", err)
				}
				if decoded.Type != typ || !bytes.Equal(decoded.Data, original.Data) {
					t.Fatalf("got type %d data %x, want type %d data %x", decoded.Type, decoded.Data, typ, original.Data)
				}
				// nil and empty lists print alike, which is the equality the wire has
				if got, want := fmt.Sprintf("%v", decoded.Args), fmt.Sprintf("%v", original.Args); got != want {
					t.Fatalf("got args %s, want %s", got, want)
				}
			})
		})
	}
}

func TestUnknownTypeRoundTrip(t *testing.T) {
	is := is.New(t)

	original := protocol.NewRawPacket(protocol.In, 4242, []byte("opaque"))

	buf := bytes.Buffer{}
	is.NoErr(protocol.WritePacket(&buf, original))

	decoded, err := protocol.ReadPacket(&buf, protocol.In)
	is.NoErr(err)
	is.Equal(decoded.Type, uint16(4242))
	is.Equal(decoded.Data, []byte("opaque"))
	is.Equal(decoded.Args, nil)
	is.Equal(decoded.Name(), "Unknown 4242")
}

func TestReadPacketEOF(t *testing.T) {
	is := is.New(t)

	_, err := protocol.ReadPacket(bytes.NewReader(nil), protocol.In)
	is.True(errors.Is(err, io.EOF))

	// header promises 10 bytes, only 3 arrive
	_, err = protocol.ReadPacket(bytes.NewReader([]byte{0, 100, 0, 10, 'a', 'b', 'c'}), protocol.In)
	is.True(errors.Is(err, io.ErrUnexpectedEOF))
}

func TestReadPacketMalformedPayload(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	// system message whose string claims 10 bytes but carries 3
	buf.Write([]byte{0, 36, 0, 5, 0, 10, 'a', 'b', 'c'})
	is.NoErr(protocol.WritePacket(&buf, protocol.MustPacket(protocol.In, protocol.TypeMsgSystem, protocol.Str("still here"))))

	bad, err := protocol.ReadPacket(&buf, protocol.In)
	is.True(errors.Is(err, protocol.ErrMalformedPacket))
	is.Equal(bad.Type, protocol.TypeMsgSystem)
	is.Equal(bad.Args, nil)
	is.Equal(bad.Data, []byte{0, 10, 'a', 'b', 'c'})

	// the stream stays in sync
	next, err := protocol.ReadPacket(&buf, protocol.In)
	is.NoErr(err)
	is.Equal(next.ArgStr(0), "still here")
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) - 1, nil }

func TestWritePacketShortWrite(t *testing.T) {
	is := is.New(t)

	p := protocol.MustPacket(protocol.Out, protocol.TypePing, protocol.Str("x"))
	err := protocol.WritePacket(shortWriter{}, p)
	is.True(errors.Is(err, protocol.ErrShortWrite))
}

func TestExpectType(t *testing.T) {
	is := is.New(t)

	p := protocol.NewRawPacket(protocol.In, protocol.TypeLoginOK, nil)
	is.NoErr(protocol.ExpectType(p, protocol.TypeLoginOK))
	is.True(errors.Is(protocol.ExpectType(p, protocol.TypeLoginCharlist), protocol.ErrUnexpectedPacket))
}
