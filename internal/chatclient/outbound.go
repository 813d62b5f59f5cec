package chatclient

import (
	"fmt"

	"github.com/blukai/aochat/internal/charset"
	"github.com/blukai/aochat/internal/floodqueue"
	"github.com/blukai/aochat/internal/protocol"
)

// DefaultBlob is the empty extra payload of messages.
const DefaultBlob = "\x00"

// DefaultBuddyPayload adds a buddy permanently.
const DefaultBuddyPayload = "\x01"

// guildGroupType is the channel type of the org channel.
const guildGroupType = 3

// enqueue queues p and lets the flood limiter send what it can right away.
func (c *Client) enqueue(priority floodqueue.Priority, p *protocol.Packet) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.queue.Push(priority, p)
	c.metrics.QueueDepth(c.queue.Len())
	return c.Iteration()
}

// SendPing sends the keep-alive ping.
func (c *Client) SendPing() error {
	c.lastPing = c.now()
	p := protocol.MustPacket(protocol.Out, protocol.TypePing, protocol.Str(c.opts.PingTag))
	return c.writePacket(p)
}

// SendTell queues a private message to a character. msg is UTF-8.
func (c *Client) SendTell(user, msg string, priority floodqueue.Priority) error {
	return c.SendTellBlob(user, msg, DefaultBlob, priority)
}

// SendTellBlob is SendTell with an explicit extra payload.
func (c *Client) SendTellBlob(user, msg, blob string, priority floodqueue.Priority) error {
	uid, err := c.ResolveUserID(user)
	if err != nil {
		return fmt.Errorf("could not send tell: %w", err)
	}
	p, err := protocol.NewPacket(protocol.Out, protocol.TypeMsgPrivate,
		protocol.Int(uid),
		protocol.Str(charset.Encode(msg)),
		protocol.Str(blob),
	)
	if err != nil {
		return fmt.Errorf("could not build tell: %w", err)
	}
	return c.enqueue(priority, p)
}

// SendGroup queues a message to a public channel, by name or raw id.
func (c *Client) SendGroup(group, msg string, priority floodqueue.Priority) error {
	gid, ok := c.cache.GroupID(group)
	if !ok {
		return fmt.Errorf("could not send to channel: %w: %q", ErrNotFound, group)
	}
	return c.sendGroupMessage(gid, msg, priority)
}

// SendGuild queues a message to the org channel.
func (c *Client) SendGuild(msg string, priority floodqueue.Priority) error {
	for _, gid := range c.cache.Groups() {
		if gid[0] == guildGroupType {
			return c.sendGroupMessage(gid, msg, priority)
		}
	}
	return fmt.Errorf("could not send to org channel: %w", ErrNotFound)
}

func (c *Client) sendGroupMessage(gid protocol.GroupID, msg string, priority floodqueue.Priority) error {
	p, err := protocol.NewPacket(protocol.Out, protocol.TypeGroupMessage,
		gid,
		protocol.Str(charset.Encode(msg)),
		protocol.Str(DefaultBlob),
	)
	if err != nil {
		return fmt.Errorf("could not build channel message: %w", err)
	}
	return c.enqueue(priority, p)
}

// GroupJoin unmutes a channel. The server answers with a new announcement;
// the local status only changes then.
func (c *Client) GroupJoin(group string) error {
	return c.setGroupMute(group, false)
}

// GroupLeave mutes a channel.
func (c *Client) GroupLeave(group string) error {
	return c.setGroupMute(group, true)
}

func (c *Client) setGroupMute(group string, mute bool) error {
	gid, ok := c.cache.GroupID(group)
	if !ok {
		return fmt.Errorf("could not change channel: %w: %q", ErrNotFound, group)
	}
	status, _ := c.cache.GroupStatus(gid)
	if mute {
		status |= protocol.GroupMute
	} else {
		status &^= protocol.GroupMute
	}
	p := protocol.MustPacket(protocol.Out, protocol.TypeGroupDataSet, gid, protocol.Int(status), protocol.Str(DefaultBlob))
	return c.writePacket(p)
}

// SendPrivgroupMessage sends a message to the private channel of the
// character group.
func (c *Client) SendPrivgroupMessage(group, msg string) error {
	gid, err := c.ResolveUserID(group)
	if err != nil {
		return fmt.Errorf("could not send to private channel: %w", err)
	}
	p, err := protocol.NewPacket(protocol.Out, protocol.TypePrivgrpMessage,
		protocol.Int(gid),
		protocol.Str(charset.Encode(msg)),
		protocol.Str(DefaultBlob),
	)
	if err != nil {
		return fmt.Errorf("could not build private channel message: %w", err)
	}
	return c.writePacket(p)
}

func (c *Client) sendToUser(typ uint16, user string) error {
	uid, err := c.ResolveUserID(user)
	if err != nil {
		return err
	}
	return c.writePacket(protocol.MustPacket(protocol.Out, typ, protocol.Int(uid)))
}

// PrivgroupJoin accepts an invitation to the private channel of group.
func (c *Client) PrivgroupJoin(group string) error {
	if err := c.sendToUser(protocol.TypePrivgrpJoin, group); err != nil {
		return fmt.Errorf("could not join private channel: %w", err)
	}
	return nil
}

// PrivgroupLeave leaves the private channel of group.
func (c *Client) PrivgroupLeave(group string) error {
	if err := c.sendToUser(protocol.TypePrivgrpPart, group); err != nil {
		return fmt.Errorf("could not leave private channel: %w", err)
	}
	return nil
}

// PrivgroupInvite invites user to our private channel.
func (c *Client) PrivgroupInvite(user string) error {
	if err := c.sendToUser(protocol.TypePrivgrpInvite, user); err != nil {
		return fmt.Errorf("could not invite: %w", err)
	}
	return nil
}

// PrivgroupKick removes user from our private channel.
func (c *Client) PrivgroupKick(user string) error {
	if err := c.sendToUser(protocol.TypePrivgrpKick, user); err != nil {
		return fmt.Errorf("could not kick: %w", err)
	}
	return nil
}

// PrivgroupKickAll empties our private channel.
func (c *Client) PrivgroupKickAll() error {
	return c.writePacket(protocol.MustPacket(protocol.Out, protocol.TypePrivgrpKickAll))
}

// BuddyAdd puts uid on the buddy list with the default payload.
func (c *Client) BuddyAdd(uid uint32) error {
	return c.BuddyAddPayload(uid, DefaultBuddyPayload)
}

func (c *Client) BuddyAddPayload(uid uint32, payload string) error {
	if char, ok := c.Character(); ok && char.ID == uid {
		return ErrBuddySelf
	}
	p := protocol.MustPacket(protocol.Out, protocol.TypeBuddyAdd, protocol.Int(uid), protocol.Str(payload))
	return c.writePacket(p)
}

func (c *Client) BuddyRemove(uid uint32) error {
	return c.writePacket(protocol.MustPacket(protocol.Out, protocol.TypeBuddyRemove, protocol.Int(uid)))
}

// BuddyRemoveUnknown asks the server to drop buddies that no longer exist.
func (c *Client) BuddyRemoveUnknown() error {
	p := protocol.MustPacket(protocol.Out, protocol.TypeCC, protocol.StrList{"rembuddy", "?"})
	return c.writePacket(p)
}
