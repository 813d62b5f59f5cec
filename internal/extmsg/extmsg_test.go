package extmsg_test

import (
	"errors"
	"testing"

	"github.com/blukai/aochat/internal/extmsg"
	"github.com/matryer/is"
	"pgregory.net/rapid"
)

type mapCatalog map[[2]uint32]string

func (c mapCatalog) MessageString(category, instance uint32) (string, bool) {
	s, ok := c[[2]uint32{category, instance}]
	return s, ok
}

func b85(n uint32) string {
	return string(extmsg.AppendBase85(nil, n))
}

func header(cat, ins uint32) string {
	return extmsg.Marker + b85(cat) + b85(ins)
}

func TestBase85(t *testing.T) {
	is := is.New(t)

	is.Equal(b85(0), "!!!!!")
	is.Equal(b85(7), "!!!!(")
	is.Equal(b85(85), "!!!\"!")

	r := extmsg.NewReader([]byte("!!!!(s"))
	n, err := r.Base85()
	is.NoErr(err)
	is.Equal(n, int64(7))
	is.Equal(r.Offset(), 5)
	is.Equal(r.Len(), 1)

	_, err = extmsg.NewReader([]byte("!!!!")).Base85()
	is.True(errors.Is(err, extmsg.ErrShortBuffer))
}

func TestBase85RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Uint32().Draw(t, "n")
		got, err := extmsg.NewReader(extmsg.AppendBase85(nil, n)).Base85()
		if err != nil {
			t.Fatal(err)
		}
		if got != int64(n) {
			t.Fatalf("got %d, want %d", got, n)
		}
	})
}

func TestBase85Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := rapid.SliceOfN(rapid.ByteRange(33, 117), 5, 32).Draw(t, "buf")

		a := extmsg.NewReader(buf)
		b := extmsg.NewReader(buf)
		x, errA := a.Base85()
		y, errB := b.Base85()
		if errA != nil || errB != nil {
			t.Fatalf("unexpected errors: %v, %v", errA, errB)
		}
		if x != y {
			t.Fatalf("decoded %d and %d from the same bytes", x, y)
		}
		if a.Offset() != extmsg.Base85Size || b.Offset() != extmsg.Base85Size {
			t.Fatalf("cursor at %d and %d", a.Offset(), b.Offset())
		}
	})
}

func TestDecodeShortString(t *testing.T) {
	is := is.New(t)

	msg := header(7, 1) + "s\x04ABC~"

	t.Run("without template", func(t *testing.T) {
		is := is.New(t)

		msgs, err := extmsg.NewDecoder(nil, nil).DecodeMessages(msg)
		is.True(errors.Is(err, extmsg.ErrNoTemplate))
		is.Equal(len(msgs), 1)
		is.Equal(msgs[0].Category, int64(7))
		is.Equal(msgs[0].Instance, int64(1))
		is.Equal(msgs[0].Params, []extmsg.Param{extmsg.StringParam("ABC")})
		is.Equal(msgs[0].Text, "")
	})

	catalog := mapCatalog{{7, 1}: "Hello %s!"}
	text, err := extmsg.NewDecoder(catalog, nil).Decode(msg)
	is.NoErr(err)
	is.Equal(text, "Hello ABC!")
}

func TestParamTags(t *testing.T) {
	is := is.New(t)

	catalog := mapCatalog{
		{509, 12}:   "Omni-Tek",
		{20000, 5}:  "Borealis",
		{99, 99}:    "%s|%s|%d|%d|%s|%s|%s",
		{20000, 77}: "unused",
	}

	msg := header(99, 99) +
		"S\x00\x05hello" +
		"s\x01" +
		"I\xff\xff\xff\xfe" +
		"i" + b85(42) +
		"R" + b85(509) + b85(12) +
		"R" + b85(9) + b85(9) +
		"l\x00\x00\x00\x05" +
		"~"

	msgs, err := extmsg.NewDecoder(catalog, nil).DecodeMessages(msg)
	is.NoErr(err)
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Params, []extmsg.Param{
		extmsg.StringParam("hello"),
		extmsg.StringParam(""),
		extmsg.IntParam(-2),
		extmsg.IntParam(42),
		extmsg.ResolvedParam("Omni-Tek"),
		extmsg.ResolvedParam("Unknown (9, 9)"),
		extmsg.ResolvedParam("Borealis"),
	})
	is.Equal(msgs[0].Text, "hello||-2|42|Omni-Tek|Unknown (9, 9)|Borealis")
}

func TestDecodeSeveral(t *testing.T) {
	is := is.New(t)

	catalog := mapCatalog{
		{1, 1}: "  %s wins  ",
		{1, 2}: " with %u points",
	}
	msg := header(1, 1) + "s\x04Bob~" + header(1, 2) + "u" + b85(300) + "~"

	text, err := extmsg.NewDecoder(catalog, nil).Decode(msg)
	is.NoErr(err)
	is.Equal(text, "Bob winswith 300 points")
}

func TestDecodeMissingTemplateContinues(t *testing.T) {
	is := is.New(t)

	catalog := mapCatalog{{1, 2}: "second"}
	msg := header(1, 1) + "~" + header(1, 2) + "~"

	text, err := extmsg.NewDecoder(catalog, nil).Decode(msg)
	is.True(errors.Is(err, extmsg.ErrNoTemplate))
	is.Equal(text, "second")
}

func TestDecodeUnknownTagAbandonsRest(t *testing.T) {
	is := is.New(t)

	catalog := mapCatalog{{1, 1}: "first", {1, 2}: "second", {1, 3}: "third"}
	msg := header(1, 1) + "~" + header(1, 2) + "Zjunk~" + header(1, 3) + "~"

	msgs, err := extmsg.NewDecoder(catalog, nil).DecodeMessages(msg)
	is.True(errors.Is(err, extmsg.ErrUnknownTag))
	is.Equal(len(msgs), 2)
	is.Equal(msgs[0].Text, "first")
	is.Equal(msgs[1].Text, "")
}

func TestDecodeTruncated(t *testing.T) {
	is := is.New(t)

	for _, msg := range []string{
		extmsg.Marker + "!!",
		header(1, 1) + "S\x00\x09abc",
		header(1, 1) + "s\x00",
		header(1, 1) + "I\x00",
		header(1, 1) + "R" + b85(1),
	} {
		msgs, err := extmsg.NewDecoder(mapCatalog{}, nil).DecodeMessages(msg)
		is.True(errors.Is(err, extmsg.ErrShortBuffer)) // msg
		is.Equal(len(msgs), 1)                         // the broken one is still returned
		is.Equal(msgs[0].Text, "")
	}
}

func TestDecodeWideBase85(t *testing.T) {
	is := is.New(t)

	// 85^5-1 does not fit 32 bits; cut down to 32 it would hit "wrong"
	const wide = "uuuuu"
	wrapped := uint32(int64(85*85*85*85*85-1) & 0xffffffff)
	catalog := mapCatalog{{wrapped, wrapped}: "wrong", {1, 1}: "%s"}

	msgs, err := extmsg.NewDecoder(catalog, nil).DecodeMessages(extmsg.Marker + wide + wide + "~")
	is.True(errors.Is(err, extmsg.ErrNoTemplate))
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Category, int64(85*85*85*85*85-1))
	is.Equal(msgs[0].Text, "")

	text, err := extmsg.NewDecoder(catalog, nil).Decode(header(1, 1) + "R" + wide + wide + "~")
	is.NoErr(err)
	is.Equal(text, "Unknown (4437053124, 4437053124)")
}

func TestDecodeNotExtended(t *testing.T) {
	is := is.New(t)

	is.True(!extmsg.IsExtended("hello"))
	is.True(extmsg.IsExtended(header(1, 1)))

	text, err := extmsg.NewDecoder(nil, nil).Decode("hello")
	is.NoErr(err)
	is.Equal(text, "")
}

func TestNotice(t *testing.T) {
	is := is.New(t)

	catalog := mapCatalog{
		{extmsg.NoticeCategory, 172363154}: "%s has joined the org %s.",
	}
	d := extmsg.NewDecoder(catalog, nil)

	m, err := d.Notice(172363154, "s\x04Bob"+"S\x00\x04Clan~")
	is.NoErr(err)
	is.Equal(m.Category, int64(extmsg.NoticeCategory))
	is.Equal(m.Text, "Bob has joined the org Clan.")

	_, err = d.Notice(1, "")
	is.True(errors.Is(err, extmsg.ErrNoTemplate))

	_, err = d.Notice(172363154, "Q")
	is.True(errors.Is(err, extmsg.ErrUnknownTag))
}
