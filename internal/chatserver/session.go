package chatserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/blukai/aochat/internal/handshake"
	"github.com/blukai/aochat/internal/lookup"
	"github.com/blukai/aochat/internal/protocol"
	"github.com/hashicorp/go-multierror"
)

const (
	loginErrorCredentials = "Invalid username or password"
	loginErrorCharacter   = "Invalid character"
)

var errLoginRejected = errors.New("login rejected")

type session struct {
	server *Server
	conn   net.Conn
	wmu    sync.Mutex

	seed    string
	account *Account
	char    uint32

	mu     sync.Mutex
	status map[protocol.GroupID]uint32
}

type privgroup struct {
	invited map[uint32]struct{}
	members map[uint32]struct{}
}

func (sess *session) send(p *protocol.Packet) error {
	sess.wmu.Lock()
	defer sess.wmu.Unlock()

	sess.server.logger.Debug().
		Str("packet", p.Name()).
		Msg("send")

	if timeout := sess.server.opts.WriteTimeout; timeout > 0 {
		if err := sess.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("could not set write deadline: %w", err)
		}
	}
	return protocol.WritePacket(sess.conn, p)
}

func (sess *session) sendNew(typ uint16, args ...protocol.Arg) error {
	p, err := protocol.NewPacket(protocol.In, typ, args...)
	if err != nil {
		return err
	}
	return sess.send(p)
}

func (sess *session) serve(ctx context.Context) {
	s := sess.server
	defer func() {
		s.leavePrivgroups(sess.char)
		s.removeSession(sess)
		_ = sess.conn.Close()
	}()

	sess.seed = newSeed()
	if err := sess.sendNew(protocol.TypeLoginSeed, protocol.Str(sess.seed)); err != nil {
		s.logger.Error().Msgf("could not send login seed: %v", err)
		return
	}

	for ctx.Err() == nil {
		p, err := protocol.ReadPacket(sess.conn, protocol.Out)
		if errors.Is(err, protocol.ErrMalformedPacket) {
			s.logger.Warn().
				Str("packet", p.Name()).
				Uint32("char", sess.char).
				Msgf("dropping packet: %v", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug().
					Uint32("char", sess.char).
					Msgf("could not read packet: %v", err)
			}
			return
		}

		s.logger.Debug().
			Str("packet", p.Name()).
			Uint32("char", sess.char).
			Msg("recv")

		if err := sess.handlePacket(p); err != nil {
			if errors.Is(err, errLoginRejected) {
				return
			}
			s.logger.Error().
				Uint32("char", sess.char).
				Msgf("error handling %s: %v", p.Name(), err)
		}
	}
}

func (sess *session) handlePacket(p *protocol.Packet) error {
	switch p.Type {
	case protocol.TypeLoginRequest:
		return sess.handleLoginRequest(p)
	case protocol.TypeLoginSelect:
		return sess.handleLoginSelect(p)
	case protocol.TypePing:
		return sess.sendNew(protocol.TypePing, protocol.Str(p.ArgStr(0)))
	}

	if sess.char == 0 {
		return fmt.Errorf("%s before login", p.Name())
	}

	switch p.Type {
	case protocol.TypeClientLookup:
		return sess.handleLookup(p)
	case protocol.TypeMsgPrivate:
		return sess.handleTell(p)
	case protocol.TypeGroupMessage:
		return sess.handleGroupMessage(p)
	case protocol.TypeGroupDataSet:
		return sess.handleGroupDataSet(p)
	case protocol.TypeBuddyAdd:
		uid := p.ArgInt(0)
		_, online := sess.server.sessionFor(uid)
		return sess.sendNew(protocol.TypeBuddyAdd, protocol.Int(uid), protocol.Int(boolInt(online)), protocol.Str(p.ArgStr(1)))
	case protocol.TypeBuddyRemove:
		return sess.sendNew(protocol.TypeBuddyRemove, protocol.Int(p.ArgInt(0)))
	case protocol.TypePrivgrpInvite:
		return sess.server.privgroupInvite(sess.char, p.ArgInt(0))
	case protocol.TypePrivgrpJoin:
		return sess.server.privgroupJoin(p.ArgInt(0), sess.char)
	case protocol.TypePrivgrpPart:
		return sess.server.privgroupPart(p.ArgInt(0), sess.char)
	case protocol.TypePrivgrpKick:
		return sess.server.privgroupKick(sess.char, p.ArgInt(0))
	case protocol.TypePrivgrpKickAll:
		return sess.server.privgroupKickAll(sess.char)
	case protocol.TypePrivgrpMessage:
		return sess.server.privgroupMessage(p.ArgInt(0), sess.char, p.ArgStr(1), p.ArgStr(2))
	default:
		sess.server.logger.Debug().
			Uint16("type", p.Type).
			Msg("unhandled packet")
		return nil
	}
}

func (sess *session) handleLoginRequest(p *protocol.Packet) error {
	s := sess.server

	reject := func(reason string, err error) error {
		s.logger.Info().
			Str("username", p.ArgStr(1)).
			Msgf("login rejected: %v", err)
		if sendErr := sess.sendNew(protocol.TypeLoginError, protocol.Str(reason)); sendErr != nil {
			return multierror.Append(errLoginRejected, sendErr)
		}
		return errLoginRejected
	}

	if sess.account != nil {
		return reject(loginErrorCredentials, errors.New("already authenticated"))
	}

	plain, err := handshake.OpenLoginKey(s.opts.Params, s.opts.Secret, p.ArgStr(2))
	if err != nil {
		return reject(loginErrorCredentials, err)
	}
	creds, err := handshake.ParsePlaintext(plain)
	if err != nil {
		return reject(loginErrorCredentials, err)
	}

	acct, ok := s.accounts[strings.ToLower(creds.Username)]
	switch {
	case !ok:
		return reject(loginErrorCredentials, fmt.Errorf("no account %q", creds.Username))
	case !strings.EqualFold(creds.Username, p.ArgStr(1)):
		return reject(loginErrorCredentials, errors.New("username mismatch"))
	case creds.Seed != sess.seed:
		return reject(loginErrorCredentials, errors.New("seed mismatch"))
	case creds.Password != acct.Password:
		return reject(loginErrorCredentials, errors.New("wrong password"))
	}
	sess.account = acct

	var (
		ids    = make(protocol.IntList, 0, len(acct.Characters))
		names  = make(protocol.StrList, 0, len(acct.Characters))
		levels = make(protocol.IntList, 0, len(acct.Characters))
		online = make(protocol.IntList, 0, len(acct.Characters))
	)
	for _, name := range acct.Characters {
		id := CharacterID(name)
		_, on := s.sessionFor(id)
		ids = append(ids, id)
		names = append(names, lookup.NormalizeName(name))
		levels = append(levels, 1)
		online = append(online, boolInt(on))
	}

	return sess.sendNew(protocol.TypeLoginCharlist, ids, names, levels, online)
}

func (sess *session) handleLoginSelect(p *protocol.Packet) error {
	s := sess.server

	if sess.account == nil || sess.char != 0 {
		return errLoginRejected
	}

	id := p.ArgInt(0)
	owned := false
	for _, name := range sess.account.Characters {
		if CharacterID(name) == id {
			owned = true
			break
		}
	}
	if !owned {
		if err := sess.sendNew(protocol.TypeLoginError, protocol.Str(loginErrorCharacter)); err != nil {
			return multierror.Append(errLoginRejected, err)
		}
		return errLoginRejected
	}

	if _, taken := s.sessionFor(id); taken {
		if err := sess.sendNew(protocol.TypeLoginError, protocol.Str(loginErrorCharacter)); err != nil {
			return multierror.Append(errLoginRejected, err)
		}
		return errLoginRejected
	}

	// nothing else may reach the client before the login result
	if err := sess.sendNew(protocol.TypeLoginOK); err != nil {
		return err
	}

	s.mu.Lock()
	sess.char = id
	s.online[id] = sess
	s.mu.Unlock()

	s.logger.Info().
		Str("character", s.names[id]).
		Uint32("id", id).
		Msg("character logged in")

	var errs error
	for _, group := range s.opts.Groups {
		sess.mu.Lock()
		sess.status[group.ID] = group.Status
		sess.mu.Unlock()

		if err := sess.announce(group.ID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (sess *session) announce(gid protocol.GroupID) error {
	group, ok := sess.server.groups[gid]
	if !ok {
		return fmt.Errorf("unknown group %s", gid)
	}

	sess.mu.Lock()
	status := sess.status[gid]
	sess.mu.Unlock()

	return sess.sendNew(protocol.TypeGroupAnnounce, gid, protocol.Str(group.Name), protocol.Int(status), protocol.Str("\x00"))
}

func (sess *session) muted(gid protocol.GroupID) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.status[gid]&protocol.GroupMute == protocol.GroupMute
}

func (sess *session) handleLookup(p *protocol.Packet) error {
	name := lookup.NormalizeName(p.ArgStr(0))
	id, ok := sess.server.lookupName(name)
	if !ok {
		id = lookup.InvalidIDOnes
	}
	return sess.sendNew(protocol.TypeClientLookup, protocol.Int(id), protocol.Str(name))
}

func (sess *session) handleTell(p *protocol.Packet) error {
	target, ok := sess.server.sessionFor(p.ArgInt(0))
	if !ok {
		return sess.sendNew(protocol.TypeMsgSystem, protocol.Str("Message could not be sent. The receiver is offline."))
	}

	// let the receiver resolve the sender
	if err := target.sendNew(protocol.TypeClientName, protocol.Int(sess.char), protocol.Str(sess.server.names[sess.char])); err != nil {
		return err
	}
	return target.sendNew(protocol.TypeMsgPrivate, protocol.Int(sess.char), protocol.Str(p.ArgStr(1)), protocol.Str(p.ArgStr(2)))
}

func (sess *session) handleGroupMessage(p *protocol.Packet) error {
	gid, _ := p.ArgGroup(0)
	if _, ok := sess.server.groups[gid]; !ok {
		return fmt.Errorf("message to unknown group %s", gid)
	}

	out, err := protocol.NewPacket(protocol.In, protocol.TypeGroupMessage, gid, protocol.Int(sess.char), protocol.Str(p.ArgStr(1)), protocol.Str(p.ArgStr(2)))
	if err != nil {
		return err
	}

	// broadcast to every listener, the sender included
	var errs error
	for _, other := range sess.server.loggedIn() {
		if other.muted(gid) {
			continue
		}
		if err := other.send(out); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (sess *session) handleGroupDataSet(p *protocol.Packet) error {
	gid, _ := p.ArgGroup(0)
	if _, ok := sess.server.groups[gid]; !ok {
		return fmt.Errorf("status of unknown group %s", gid)
	}

	sess.mu.Lock()
	sess.status[gid] = p.ArgInt(1)
	sess.mu.Unlock()

	return sess.announce(gid)
}

func (s *Server) privgroup(owner uint32) *privgroup {
	pg, ok := s.privgroups[owner]
	if !ok {
		pg = &privgroup{
			invited: make(map[uint32]struct{}),
			members: make(map[uint32]struct{}),
		}
		s.privgroups[owner] = pg
	}
	return pg
}

// notifyPrivgroup sends a packet to the owner and every member of a private
// channel, plus extra.
func (s *Server) notifyPrivgroup(owner uint32, p *protocol.Packet, extra ...uint32) error {
	s.mu.Lock()
	targets := []uint32{owner}
	if pg, ok := s.privgroups[owner]; ok {
		for member := range pg.members {
			targets = append(targets, member)
		}
	}
	targets = append(targets, extra...)
	s.mu.Unlock()

	var errs error
	for _, id := range targets {
		sess, ok := s.sessionFor(id)
		if !ok {
			continue
		}
		if err := sess.send(p); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (s *Server) privgroupInvite(owner, uid uint32) error {
	target, ok := s.sessionFor(uid)
	if !ok {
		return fmt.Errorf("invite of offline character %d", uid)
	}

	s.mu.Lock()
	s.privgroup(owner).invited[uid] = struct{}{}
	s.mu.Unlock()

	return target.sendNew(protocol.TypePrivgrpInvite, protocol.Int(owner))
}

func (s *Server) privgroupJoin(owner, uid uint32) error {
	s.mu.Lock()
	pg := s.privgroup(owner)
	_, invited := pg.invited[uid]
	if invited {
		delete(pg.invited, uid)
		pg.members[uid] = struct{}{}
	}
	s.mu.Unlock()

	if !invited {
		return fmt.Errorf("character %d joined %d uninvited", uid, owner)
	}
	return s.notifyPrivgroup(owner, protocol.MustPacket(protocol.In, protocol.TypePrivgrpCliJoin, protocol.Int(owner), protocol.Int(uid)))
}

func (s *Server) removeMember(owner, uid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pg, ok := s.privgroups[owner]
	if !ok {
		return false
	}
	if _, member := pg.members[uid]; !member {
		return false
	}
	delete(pg.members, uid)
	return true
}

func (s *Server) privgroupPart(owner, uid uint32) error {
	if !s.removeMember(owner, uid) {
		return nil
	}
	part := protocol.MustPacket(protocol.In, protocol.TypePrivgrpCliPart, protocol.Int(owner), protocol.Int(uid))
	return s.notifyPrivgroup(owner, part, uid)
}

func (s *Server) privgroupKick(owner, uid uint32) error {
	if !s.removeMember(owner, uid) {
		return nil
	}

	var errs error
	if target, ok := s.sessionFor(uid); ok {
		if err := target.sendNew(protocol.TypePrivgrpKick, protocol.Int(owner)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	part := protocol.MustPacket(protocol.In, protocol.TypePrivgrpCliPart, protocol.Int(owner), protocol.Int(uid))
	if err := s.notifyPrivgroup(owner, part); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

func (s *Server) privgroupKickAll(owner uint32) error {
	s.mu.Lock()
	var members []uint32
	if pg, ok := s.privgroups[owner]; ok {
		for member := range pg.members {
			members = append(members, member)
		}
	}
	s.mu.Unlock()

	var errs error
	for _, member := range members {
		if err := s.privgroupKick(owner, member); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (s *Server) privgroupMessage(owner, sender uint32, text, blob string) error {
	s.mu.Lock()
	allowed := sender == owner
	if pg, ok := s.privgroups[owner]; ok && !allowed {
		_, allowed = pg.members[sender]
	}
	s.mu.Unlock()

	if !allowed {
		return fmt.Errorf("character %d is not in private channel %d", sender, owner)
	}

	p, err := protocol.NewPacket(protocol.In, protocol.TypePrivgrpMessage, protocol.Int(owner), protocol.Int(sender), protocol.Str(text), protocol.Str(blob))
	if err != nil {
		return err
	}
	return s.notifyPrivgroup(owner, p)
}

// leavePrivgroups drops a disconnecting character from every private
// channel it was in.
func (s *Server) leavePrivgroups(uid uint32) {
	if uid == 0 {
		return
	}

	s.mu.Lock()
	var owners []uint32
	for owner, pg := range s.privgroups {
		if _, ok := pg.members[uid]; ok {
			owners = append(owners, owner)
		}
	}
	s.mu.Unlock()

	for _, owner := range owners {
		if err := s.privgroupPart(owner, uid); err != nil {
			s.logger.Error().Msgf("could not part %d from %d: %v", uid, owner, err)
		}
	}
}

func boolInt(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
