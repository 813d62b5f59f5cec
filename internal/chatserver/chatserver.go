// Package chatserver is a small chat server speaking the client protocol:
// login with the key exchange, character selection, name lookups, tells,
// public channels and private channels. It exists to test the engine and
// to run it without the live servers.
package chatserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/blukai/aochat/internal/handshake"
	"github.com/blukai/aochat/internal/lookup"
	"github.com/blukai/aochat/internal/protocol"
	"github.com/blukai/aochat/internal/word32"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

// DefaultSecret is the private exponent behind the public value the server
// hands out with DefaultOptions.
const DefaultSecret = "0x2b7e151628aed2a6abf7158809cf4f3c762e7160f38b4da56a784d9045190cfe"

// Group types, the first byte of a group id.
const (
	GroupTypeOrg    byte = 0x03
	GroupTypePublic byte = 0x87
)

type Account struct {
	Username   string
	Password   string
	Characters []string
}

type Group struct {
	ID     protocol.GroupID
	Name   string
	Status uint32
}

type Options struct {
	// Params and Secret must match: Params.Y = G^Secret mod N. Clients
	// need the same Params.
	Params handshake.Params
	Secret string

	Accounts []Account
	// Characters that exist without an account, e.g. lookup targets.
	Characters []string
	// Groups are announced to every character after login.
	Groups []Group

	WriteTimeout time.Duration
}

// DefaultOptions uses DefaultSecret and no accounts.
func DefaultOptions() Options {
	params, err := handshake.DefaultParams().WithSecret(DefaultSecret)
	if err != nil {
		panic(err)
	}
	return Options{
		Params:       params,
		Secret:       DefaultSecret,
		WriteTimeout: time.Second,
	}
}

// CharacterID derives the stable id the server gives a character name.
func CharacterID(name string) uint32 {
	h := new(big.Int).SetUint64(xxhash.Sum64String(strings.ToLower(name)))
	id := word32.Unsigned(word32.Reduce(h))
	if id == lookup.InvalidIDZero || id == lookup.InvalidIDOnes {
		id = 1
	}
	return id
}

// NewGroupID derives a group id of the given type from its name.
func NewGroupID(typ byte, name string) protocol.GroupID {
	h := xxhash.Sum64String(strings.ToLower(name))
	return protocol.GroupID{typ, byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h)}
}

type Server struct {
	listener net.Listener
	opts     Options
	logger   *log.Logger

	// names by id and the account owning each playable character
	names    map[uint32]string
	accounts map[string]*Account
	groups   map[protocol.GroupID]Group

	mu       sync.Mutex
	sessions map[*session]struct{}
	online   map[uint32]*session
	// private channels by owner
	privgroups map[uint32]*privgroup
}

func NewServer(network, address string, opts Options, logger *log.Logger) (*Server, error) {
	params, err := opts.Params.Canonical()
	if err != nil {
		return nil, fmt.Errorf("invalid key exchange params: %w", err)
	}
	opts.Params = params

	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	s := &Server{
		listener: listener,
		opts:     opts,
		logger:   logger,

		names:    make(map[uint32]string),
		accounts: make(map[string]*Account),
		groups:   make(map[protocol.GroupID]Group),

		sessions:   make(map[*session]struct{}),
		online:     make(map[uint32]*session),
		privgroups: make(map[uint32]*privgroup),
	}

	for i := range opts.Accounts {
		acct := &opts.Accounts[i]
		s.accounts[strings.ToLower(acct.Username)] = acct
		for _, name := range acct.Characters {
			s.names[CharacterID(name)] = lookup.NormalizeName(name)
		}
	}
	for _, name := range opts.Characters {
		s.names[CharacterID(name)] = lookup.NormalizeName(name)
	}
	for _, group := range opts.Groups {
		s.groups[group.ID] = group
	}

	return s, nil
}

// Addr can be useful to retreive server's address when Server was
// constructed with ":0".
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections until ctx is done, then closes every session.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		err := s.listener.Close()
		s.closeSessions()
		return err
	})

	g.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("could not accept: %w", err)
			}

			sess := s.newSession(conn)
			g.Go(func() error {
				sess.serve(ctx)
				return nil
			})
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) newSession(conn net.Conn) *session {
	sess := &session{
		server: s,
		conn:   conn,
		status: make(map[protocol.GroupID]uint32),
	}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug().
		Str("addr", conn.RemoteAddr().String()).
		Msg("accepted")

	return sess
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sess)
	if sess.char != 0 && s.online[sess.char] == sess {
		delete(s.online, sess.char)
	}
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

func (s *Server) lookupName(name string) (uint32, bool) {
	id := CharacterID(name)
	_, ok := s.names[id]
	return id, ok
}

func (s *Server) sessionFor(id uint32) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.online[id]
	return sess, ok
}

func (s *Server) loggedIn() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*session, 0, len(s.online))
	for _, sess := range s.online {
		out = append(out, sess)
	}
	return out
}

// Broadcast sends p to every logged in character.
func (s *Server) Broadcast(p *protocol.Packet) error {
	var errs error
	for _, sess := range s.loggedIn() {
		if err := sess.send(p); err != nil {
			s.logger.Error().
				Uint32("char", sess.char).
				Msgf("could not broadcast %s: %v", p.Name(), err)

			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// SendTo delivers p to one logged in character.
func (s *Server) SendTo(name string, p *protocol.Packet) error {
	sess, ok := s.sessionFor(CharacterID(name))
	if !ok {
		return fmt.Errorf("%s is not online", name)
	}
	return sess.send(p)
}

func newSeed() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
