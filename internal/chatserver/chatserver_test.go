package chatserver_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/blukai/aochat/internal/bigint"
	"github.com/blukai/aochat/internal/chatserver"
	"github.com/blukai/aochat/internal/handshake"
	"github.com/blukai/aochat/internal/lookup"
	"github.com/blukai/aochat/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/matryer/is"
)

func startServer(t *testing.T, opts chatserver.Options) *chatserver.Server {
	t.Helper()
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server, err := chatserver.NewServer("tcp", "127.0.0.1:0", opts, nil)
	is.NoErr(err)
	go server.Run(ctx)

	return server
}

func dial(t *testing.T, server *chatserver.Server) net.Conn {
	t.Helper()
	is := is.New(t)

	conn, err := net.Dial("tcp", server.Addr().String())
	is.NoErr(err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func read(t *testing.T, conn net.Conn) *protocol.Packet {
	t.Helper()
	is := is.New(t)

	err := conn.SetReadDeadline(time.Now().Add(time.Second))
	is.NoErr(err)
	p, err := protocol.ReadPacket(conn, protocol.In)
	is.NoErr(err)

	return p
}

func write(t *testing.T, conn net.Conn, p *protocol.Packet) {
	t.Helper()
	is := is.New(t)

	err := conn.SetWriteDeadline(time.Now().Add(time.Second))
	is.NoErr(err)
	is.NoErr(protocol.WritePacket(conn, p))
}

func testOptions() chatserver.Options {
	opts := chatserver.DefaultOptions()
	opts.Accounts = []chatserver.Account{{
		Username:   "tester",
		Password:   "secret",
		Characters: []string{"Testbot", "Otherbot"},
	}}
	opts.Characters = []string{"Bystander"}
	opts.Groups = []chatserver.Group{{
		ID:   chatserver.NewGroupID(chatserver.GroupTypePublic, "Test OOC"),
		Name: "Test OOC",
	}}
	return opts
}

func login(t *testing.T, conn net.Conn, opts chatserver.Options, password string) *protocol.Packet {
	t.Helper()
	is := is.New(t)

	seed := read(t, conn)
	is.Equal(seed.Type, protocol.TypeLoginSeed)

	key, err := handshake.NewKeyGen(opts.Params, nil).GenerateLoginKey(seed.ArgStr(0), "tester", password)
	is.NoErr(err)
	write(t, conn, protocol.MustPacket(protocol.Out, protocol.TypeLoginRequest,
		protocol.Int(0), protocol.Str("tester"), protocol.Str(key)))

	return read(t, conn)
}

func TestSeed(t *testing.T) {
	is := is.New(t)

	server := startServer(t, testOptions())
	conn := dial(t, server)

	seed := read(t, conn)
	is.Equal(seed.Type, protocol.TypeLoginSeed)
	is.True(len(seed.ArgStr(0)) > 0)
}

func TestPing(t *testing.T) {
	is := is.New(t)

	server := startServer(t, testOptions())
	conn := dial(t, server)
	_ = read(t, conn) // seed

	write(t, conn, protocol.MustPacket(protocol.Out, protocol.TypePing, protocol.Str("hello")))

	pong := read(t, conn)
	is.Equal(pong.Type, protocol.TypePing)
	is.Equal(pong.ArgStr(0), "hello")
}

func TestMalformedPacketKeepsSession(t *testing.T) {
	is := is.New(t)

	server := startServer(t, testOptions())
	conn := dial(t, server)
	_ = read(t, conn) // seed

	// ping whose string claims 9 bytes and carries none
	_, err := conn.Write([]byte{0, 100, 0, 2, 0, 9})
	is.NoErr(err)
	write(t, conn, protocol.MustPacket(protocol.Out, protocol.TypePing, protocol.Str("still there")))

	pong := read(t, conn)
	is.Equal(pong.Type, protocol.TypePing)
	is.Equal(pong.ArgStr(0), "still there")
}

func TestLogin(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	server := startServer(t, opts)
	conn := dial(t, server)

	charlist := login(t, conn, opts, "secret")
	is.Equal(charlist.Type, protocol.TypeLoginCharlist)
	is.Equal(charlist.ArgStrs(1), []string{"Testbot", "Otherbot"})
	is.Equal(charlist.ArgInts(0)[0], chatserver.CharacterID("Testbot"))

	write(t, conn, protocol.MustPacket(protocol.Out, protocol.TypeLoginSelect, protocol.Int(chatserver.CharacterID("testbot"))))
	is.Equal(read(t, conn).Type, protocol.TypeLoginOK)

	announce := read(t, conn)
	is.Equal(announce.Type, protocol.TypeGroupAnnounce)
	is.Equal(announce.ArgStr(1), "Test OOC")

	// lookups of known and unknown names
	write(t, conn, protocol.MustPacket(protocol.Out, protocol.TypeClientLookup, protocol.Str("bystander")))
	found := read(t, conn)
	is.Equal(found.Type, protocol.TypeClientLookup)
	is.Equal(found.ArgInt(0), chatserver.CharacterID("Bystander"))
	is.Equal(found.ArgStr(1), "Bystander")

	write(t, conn, protocol.MustPacket(protocol.Out, protocol.TypeClientLookup, protocol.Str("Nobody")))
	is.Equal(read(t, conn).ArgInt(0), lookup.InvalidIDOnes)
}

func TestLoginWrongPassword(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	server := startServer(t, opts)
	conn := dial(t, server)

	resp := login(t, conn, opts, "wrong")
	is.Equal(resp.Type, protocol.TypeLoginError)
	is.Equal(resp.ArgStr(0), "Invalid username or password")
}

func TestIDs(t *testing.T) {
	is := is.New(t)

	is.Equal(chatserver.CharacterID("Testbot"), chatserver.CharacterID("testbot"))
	is.True(chatserver.CharacterID("Testbot") != chatserver.CharacterID("Otherbot"))
	is.Equal(chatserver.CharacterID("Testbot"), uint32(xxhash.Sum64String("testbot"))) // low word of the hash

	gid := chatserver.NewGroupID(chatserver.GroupTypeOrg, "Org")
	is.Equal(gid[0], chatserver.GroupTypeOrg)
	is.Equal(gid.Type(), byte(3))
	is.Equal(chatserver.NewGroupID(chatserver.GroupTypePublic, "OOC").Type(), byte(7))
}

func TestNewServerParams(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.Params.G = "5"
	server, err := chatserver.NewServer("tcp", "127.0.0.1:0", opts, nil)
	is.NoErr(err)

	// the server answers logins keyed off the canonical params
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Run(ctx)
	conn := dial(t, server)
	is.Equal(login(t, conn, testOptions(), "secret").Type, protocol.TypeLoginCharlist)

	opts.Params.N = "0xnope"
	_, err = chatserver.NewServer("tcp", "127.0.0.1:0", opts, nil)
	is.True(errors.Is(err, bigint.ErrInvalidNumber))
}
