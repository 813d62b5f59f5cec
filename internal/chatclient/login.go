package chatclient

import (
	"fmt"

	"github.com/blukai/aochat/internal/handshake"
	"github.com/blukai/aochat/internal/lookup"
	"github.com/blukai/aochat/internal/protocol"
)

// Authenticate reads the server's login seed, answers it with the derived
// login key and returns the account's characters. Any failure, including a
// rejected password, closes the connection.
func (c *Client) Authenticate(username, password string) ([]Character, error) {
	if c.state != StateAwaitSeed {
		return nil, fmt.Errorf("%w: cannot authenticate in state %s", ErrLoginFailed, c.state)
	}

	seed, err := c.readPacket()
	if err != nil {
		return nil, fmt.Errorf("could not read login seed: %w", err)
	}
	if err := protocol.ExpectType(seed, protocol.TypeLoginSeed); err != nil {
		c.Disconnect()
		return nil, err
	}
	if seed.Args == nil {
		c.Disconnect()
		return nil, fmt.Errorf("%w: login seed", protocol.ErrMalformedPacket)
	}
	c.servkey = seed.ArgStr(0)
	c.state = StateSeedReceived

	key, err := handshake.NewKeyGen(c.opts.Params, c.opts.Rand).GenerateLoginKey(c.servkey, username, password)
	if err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("could not generate login key: %w", err)
	}

	req := protocol.MustPacket(protocol.Out, protocol.TypeLoginRequest,
		protocol.Int(0),
		protocol.Str(username),
		protocol.Str(key),
	)
	if err := c.writePacket(req); err != nil {
		return nil, fmt.Errorf("could not send login request: %w", err)
	}

	resp, err := c.readPacket()
	if err != nil {
		return nil, fmt.Errorf("could not read character list: %w", err)
	}
	if resp.Type == protocol.TypeLoginError {
		c.Disconnect()
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, resp.ArgStr(0))
	}
	if err := protocol.ExpectType(resp, protocol.TypeLoginCharlist); err != nil {
		c.Disconnect()
		return nil, err
	}
	if resp.Args == nil {
		c.Disconnect()
		return nil, fmt.Errorf("%w: character list", protocol.ErrMalformedPacket)
	}

	ids, names, levels, online := resp.ArgInts(0), resp.ArgStrs(1), resp.ArgInts(2), resp.ArgInts(3)
	n := min(len(ids), len(names), len(levels), len(online))
	if n != len(ids) {
		c.logger.Warn().
			Int("ids", len(ids)).
			Int("names", len(names)).
			Int("levels", len(levels)).
			Int("online", len(online)).
			Msg("character list columns differ in length")
	}

	chars := make([]Character, n)
	for i := range chars {
		chars[i] = Character{
			ID:     ids[i],
			Name:   lookup.NormalizeName(names[i]),
			Level:  int(levels[i]),
			Online: online[i] != 0,
		}
		c.cache.AddUser(chars[i].ID, chars[i].Name)
	}

	c.username = username
	c.chars = chars
	c.state = StateCharlistReceived

	return c.Characters(), nil
}

// Login selects one of the characters Authenticate returned, by name or
// by id. An unknown character fails without touching the connection; a
// rejected selection closes it.
func (c *Client) Login(nameOrID string) error {
	if c.state != StateCharlistReceived {
		return fmt.Errorf("%w: cannot select a character in state %s", ErrLoginFailed, c.state)
	}

	var char *Character
	if lookup.IsNumeric(nameOrID) {
		id, ok := lookup.ParseUserID(nameOrID)
		for i := range c.chars {
			if ok && c.chars[i].ID == id {
				char = &c.chars[i]
				break
			}
		}
	} else {
		name := lookup.NormalizeName(nameOrID)
		for i := range c.chars {
			if c.chars[i].Name == name {
				char = &c.chars[i]
				break
			}
		}
	}
	if char == nil {
		c.logger.Error().
			Str("character", nameOrID).
			Msg("no valid character to login")
		return fmt.Errorf("%w: %s", ErrNoCharacter, nameOrID)
	}

	sel := protocol.MustPacket(protocol.Out, protocol.TypeLoginSelect, protocol.Int(char.ID))
	if err := c.writePacket(sel); err != nil {
		return fmt.Errorf("could not send character selection: %w", err)
	}
	c.state = StateCharacterSelected

	resp, err := c.readPacket()
	if err != nil {
		return fmt.Errorf("could not read login result: %w", err)
	}
	if resp.Type == protocol.TypeLoginError {
		c.Disconnect()
		return fmt.Errorf("%w: %s", ErrLoginFailed, resp.ArgStr(0))
	}
	if err := protocol.ExpectType(resp, protocol.TypeLoginOK); err != nil {
		c.Disconnect()
		return err
	}

	selected := *char
	c.char = &selected
	c.state = StateLoggedIn
	c.lastPacket = c.now()

	c.logger.Info().
		Str("character", selected.Name).
		Uint32("id", selected.ID).
		Msg("logged in")

	return nil
}
