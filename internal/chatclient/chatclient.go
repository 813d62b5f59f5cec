// Package chatclient is the chat protocol engine: one connection to a chat
// server, the login handshake, the flood-limited send queue and the caches
// the server feeds.
//
// A Client is driven by a single goroutine. Run (or a loop around
// WaitForPacket) is that goroutine; the outbound API is meant to be called
// from the dispatcher it invokes.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/blukai/aochat/internal/debug"
	"github.com/blukai/aochat/internal/extmsg"
	"github.com/blukai/aochat/internal/floodqueue"
	"github.com/blukai/aochat/internal/handshake"
	"github.com/blukai/aochat/internal/lookup"
	"github.com/blukai/aochat/internal/metrics"
	"github.com/blukai/aochat/internal/protocol"
	"github.com/phuslu/log"
)

// KeepAliveInterval is how long the connection may be silent in both
// directions before a ping goes out.
const KeepAliveInterval = 60 * time.Second

var (
	ErrNotConnected = errors.New("not connected")
	ErrDisconnected = errors.New("disconnected")
	ErrLoginFailed  = errors.New("login failed")
	ErrNoCharacter  = errors.New("no such character on account")
	ErrNotFound     = errors.New("not found")
	ErrBuddySelf    = errors.New("cannot add self as buddy")
)

type State uint8

const (
	StateDisconnected State = iota
	StateAwaitSeed
	StateSeedReceived
	StateCharlistReceived
	StateCharacterSelected
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAwaitSeed:
		return "AwaitSeed"
	case StateSeedReceived:
		return "SeedReceived"
	case StateCharlistReceived:
		return "CharlistReceived"
	case StateCharacterSelected:
		return "CharacterSelected"
	case StateLoggedIn:
		return "LoggedIn"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type Character struct {
	ID     uint32
	Name   string
	Level  int
	Online bool
}

// Dispatcher receives every packet the engine reads once logged in.
type Dispatcher interface {
	HandlePacket(p *protocol.Packet)
}

type DispatcherFunc func(p *protocol.Packet)

func (f DispatcherFunc) HandlePacket(p *protocol.Packet) { f(p) }

type Options struct {
	ConnectTimeout time.Duration
	// ReadTimeout bounds reading one packet once its first byte arrived,
	// every handshake reply and every write.
	ReadTimeout time.Duration

	FloodLimit     time.Duration
	FloodIncrement time.Duration

	// LookupPolls waits of LookupPollInterval each are spent waiting for a
	// lookup reply.
	LookupPolls        int
	LookupPollInterval time.Duration

	PingTag string

	Params handshake.Params
	// Rand feeds the key exchange; nil is crypto/rand.
	Rand io.Reader

	Catalog extmsg.Catalog
	Metrics *metrics.Metrics

	// Now drives the flood limiter, lookup debounce and keep-alive; nil is
	// time.Now.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:     10 * time.Second,
		ReadTimeout:        10 * time.Second,
		FloodLimit:         floodqueue.DefaultLimit,
		FloodIncrement:     floodqueue.DefaultIncrement,
		LookupPolls:        100,
		LookupPollInterval: time.Second,
		PingTag:            "aochat-go",
		Params:             handshake.DefaultParams(),
	}
}

type Client struct {
	opts   Options
	logger *log.Logger
	now    func() time.Time

	conn net.Conn
	rd   *bufio.Reader

	state    State
	servkey  string
	username string
	chars    []Character
	char     *Character

	queue   *floodqueue.Queue[*protocol.Packet]
	cache   *lookup.Cache
	decoder *extmsg.Decoder
	metrics *metrics.Metrics

	// packets read while waiting for a lookup reply, handed out by
	// WaitForPacket before anything new
	backlog []*protocol.Packet

	lastPacket time.Time
	lastPing   time.Time
}

func New(opts Options, logger *log.Logger) *Client {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		opts:    opts,
		logger:  logger,
		now:     now,
		queue:   floodqueue.New[*protocol.Packet](opts.FloodLimit, opts.FloodIncrement, now),
		cache:   lookup.NewCache(now),
		decoder: extmsg.NewDecoder(opts.Catalog, logger),
		metrics: opts.Metrics,
	}

	return c
}

func (c *Client) State() State {
	return c.state
}

// Username is the account Authenticate logged in with.
func (c *Client) Username() string {
	return c.username
}

// Character returns the logged in character.
func (c *Client) Character() (Character, bool) {
	if c.char == nil {
		return Character{}, false
	}
	return *c.char, true
}

// Characters returns the account's characters from the last successful
// Authenticate.
func (c *Client) Characters() []Character {
	return append([]Character(nil), c.chars...)
}

// Connect dials address. The connection attempt is bounded by
// ConnectTimeout and ctx.
func (c *Client) Connect(ctx context.Context, address string) error {
	if c.conn != nil {
		c.Disconnect()
	}

	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", address, err)
	}

	c.conn = conn
	c.rd = bufio.NewReader(conn)
	c.state = StateAwaitSeed

	c.logger.Info().
		Str("addr", address).
		Msg("connected")

	return nil
}

// Disconnect closes the connection, if any, and forgets everything tied to
// the session.
func (c *Client) Disconnect() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Msgf("could not close connection: %v", err)
		}
	}

	c.conn = nil
	c.rd = nil
	c.state = StateDisconnected
	c.servkey = ""
	c.username = ""
	c.chars = nil
	c.char = nil
	c.cache.Reset()
	c.queue.Reset()
	c.backlog = nil
	c.lastPacket = time.Time{}
	c.lastPing = time.Time{}
	c.metrics.QueueDepth(0)
}

// Close is Disconnect that reports a failure to close the socket.
func (c *Client) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.Disconnect()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("could not close connection: %w", err)
	}
	return nil
}

// fail ends the session after a transport error.
func (c *Client) fail(err error) error {
	c.logger.Error().
		Str("state", c.state.String()).
		Msgf("connection failed: %v", err)
	c.metrics.Disconnect()
	c.Disconnect()
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}

func (c *Client) writePacket(p *protocol.Packet) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	debug.Assert(p.Dir == protocol.Out)

	c.logger.Debug().
		Any("packet", p).
		Msg("send")

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return c.fail(fmt.Errorf("could not set write deadline: %w", err))
	}

	if err := protocol.WritePacket(c.conn, p); err != nil {
		return c.fail(fmt.Errorf("could not write %s: %w", p.Name(), err))
	}
	c.metrics.PacketSent(p.Type)

	return nil
}

// readPacket reads one whole packet, waiting at most ReadTimeout for it.
func (c *Client) readPacket() (*protocol.Packet, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return nil, c.fail(fmt.Errorf("could not set read deadline: %w", err))
	}

	p, err := protocol.ReadPacket(c.rd, protocol.In)
	if errors.Is(err, protocol.ErrMalformedPacket) {
		// framing held, so the stream is fine; hand out the raw packet
		c.logger.Warn().
			Str("packet", p.Name()).
			Int("size", len(p.Data)).
			Msgf("could not decode packet: %v", err)
		c.metrics.DecodeFailure()
		c.metrics.PacketReceived(p.Type)
		return p, nil
	}
	if err != nil {
		return nil, c.fail(fmt.Errorf("could not read packet: %w", err))
	}

	c.logger.Debug().
		Any("packet", p).
		Msg("recv")

	c.metrics.PacketReceived(p.Type)
	c.applyPacket(p)

	return p, nil
}

// waitWire waits up to timeout for the next packet on the socket. It
// returns nil without error if none arrived.
func (c *Client) waitWire(timeout time.Duration) (*protocol.Packet, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, c.fail(fmt.Errorf("could not set read deadline: %w", err))
	}

	if _, err := c.rd.Peek(1); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil
		}
		return nil, c.fail(fmt.Errorf("could not wait for packet: %w", err))
	}

	return c.readPacket()
}

// WaitForPacket sends whatever the flood limiter allows, then waits up to
// timeout for a packet. It returns nil without error if none arrived. A
// transport failure ends the session and is returned as ErrDisconnected.
func (c *Client) WaitForPacket(timeout time.Duration) (*protocol.Packet, error) {
	if len(c.backlog) > 0 {
		p := c.backlog[0]
		c.backlog[0] = nil
		c.backlog = c.backlog[1:]
		return p, nil
	}

	if err := c.Iteration(); err != nil {
		return nil, err
	}

	return c.waitWire(timeout)
}

// Iteration drains the send queue as far as the flood limiter allows and
// pings a connection that has been quiet for KeepAliveInterval.
func (c *Client) Iteration() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	if _, err := c.queue.Drain(c.writePacket); err != nil {
		return err
	}
	c.metrics.QueueDepth(c.queue.Len())

	now := c.now()
	if now.Sub(c.lastPacket) > KeepAliveInterval && now.Sub(c.lastPing) > KeepAliveInterval {
		if err := c.SendPing(); err != nil {
			return err
		}
	}

	return nil
}

// Run hands every packet to d until ctx is done or the connection fails.
// Cancelling ctx closes the socket, which is the only way to interrupt a
// blocked read.
func (c *Client) Run(ctx context.Context, d Dispatcher) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		p, err := c.WaitForPacket(time.Second)
		if ctx.Err() != nil {
			c.Disconnect()
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if p != nil {
			d.HandlePacket(p)
		}
	}
}

// applyPacket updates the engine's state from the packets it cares about.
// Group messages and chat notices may have their args rewritten; Data
// always stays what came over the wire.
func (c *Client) applyPacket(p *protocol.Packet) {
	switch p.Type {
	case protocol.TypeClientName, protocol.TypeClientLookup:
		c.cache.AddUser(p.ArgInt(0), p.ArgStr(1))

	case protocol.TypeGroupAnnounce:
		gid, ok := p.ArgGroup(0)
		if ok {
			c.cache.AddGroup(gid, p.ArgStr(1), p.ArgInt(2))
		}

	case protocol.TypeGroupMessage:
		text := p.ArgStr(2)
		if p.ArgInt(1) == 0 && extmsg.IsExtended(text) {
			decoded, err := c.decoder.Decode(text)
			if err != nil {
				c.metrics.DecodeFailure()
			}
			p.Args[2] = protocol.Str(decoded)
		}

	case protocol.TypeChatNotice:
		if len(p.Args) < 4 {
			break
		}
		m, err := c.decoder.Notice(p.ArgInt(2), p.ArgStr(3))
		if err != nil {
			c.metrics.DecodeFailure()
			c.logger.Warn().
				Uint32("instance", p.ArgInt(2)).
				Msgf("could not render chat notice: %v", err)
			break
		}
		p.Args = append(p.Args, protocol.Str(m.Text))
	}

	c.lastPacket = c.now()
}
