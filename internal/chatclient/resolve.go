package chatclient

import (
	"fmt"

	"github.com/blukai/aochat/internal/lookup"
	"github.com/blukai/aochat/internal/metrics"
	"github.com/blukai/aochat/internal/protocol"
)

// ResolveUserID turns a character name or a decimal id into a character
// id. An unknown name is looked up on the server; while the reply is
// awaited other packets keep being read and are queued for WaitForPacket.
func (c *Client) ResolveUserID(nameOrID string) (uint32, error) {
	if nameOrID == "" {
		return 0, fmt.Errorf("%w: empty name", ErrNotFound)
	}
	if lookup.IsNumeric(nameOrID) {
		id, ok := lookup.ParseUserID(nameOrID)
		if !ok {
			return 0, fmt.Errorf("%w: invalid id %s", ErrNotFound, nameOrID)
		}
		return id, nil
	}

	name := lookup.NormalizeName(nameOrID)
	if id, ok := c.cache.UserID(name); ok {
		c.metrics.Lookup(metrics.LookupCached)
		return c.validUserID(name, id)
	}

	if err := c.sendLookup(name); err != nil {
		return 0, err
	}

	for range c.opts.LookupPolls {
		if _, ok := c.cache.UserID(name); ok {
			break
		}
		if err := c.Iteration(); err != nil {
			return 0, err
		}
		p, err := c.waitWire(c.opts.LookupPollInterval)
		if err != nil {
			return 0, err
		}
		if p != nil {
			c.backlog = append(c.backlog, p)
		}
	}

	id, ok := c.cache.UserID(name)
	if !ok {
		c.metrics.Lookup(metrics.LookupNotFound)
		return 0, fmt.Errorf("%w: no reply for %s", ErrNotFound, name)
	}
	c.metrics.Lookup(metrics.LookupResolved)
	return c.validUserID(name, id)
}

func (c *Client) validUserID(name string, id uint32) (uint32, error) {
	if _, ok := lookup.ValidUserID(int64(id)); !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return id, nil
}

// sendLookup asks the server for the id of name unless that was already
// asked within the debounce window.
func (c *Client) sendLookup(name string) error {
	if !c.cache.ShouldLookup(name) {
		c.metrics.Lookup(metrics.LookupDebounced)
		return nil
	}
	p := protocol.MustPacket(protocol.Out, protocol.TypeClientLookup, protocol.Str(name))
	return c.writePacket(p)
}

// UserName returns the cached name of a character id.
func (c *Client) UserName(id uint32) (string, bool) {
	return c.cache.UserName(id)
}

// ResolveGroupID maps a channel name, or a raw group id, to a group id.
// Channels are only known once the server announced them.
func (c *Client) ResolveGroupID(nameOrID string) (protocol.GroupID, bool) {
	return c.cache.GroupID(nameOrID)
}

func (c *Client) ResolveGroupName(nameOrID string) (string, bool) {
	return c.cache.GroupName(nameOrID)
}

// GroupStatus returns the status flags the server last announced for a
// channel.
func (c *Client) GroupStatus(group string) (uint32, error) {
	gid, ok := c.cache.GroupID(group)
	if !ok {
		return 0, fmt.Errorf("%w: channel %q", ErrNotFound, group)
	}
	status, ok := c.cache.GroupStatus(gid)
	if !ok {
		return 0, fmt.Errorf("%w: no status for channel %s", ErrNotFound, gid)
	}
	return status, nil
}

// Groups lists the announced channels.
func (c *Client) Groups() []protocol.GroupID {
	return c.cache.Groups()
}
