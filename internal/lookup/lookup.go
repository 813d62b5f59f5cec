// Package lookup memoizes the name/id resolutions the chat server sends.
//
// Entries only ever come from server packets and live as long as the
// connection; nothing is evicted.
package lookup

import (
	"bytes"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/blukai/aochat/internal/protocol"
	"github.com/blukai/aochat/internal/word32"
)

// DebounceWindow is how long a lookup request for a name suppresses the
// next one.
const DebounceWindow = 10 * time.Second

// Character ids the server uses to say "no such character".
const (
	InvalidIDZero uint32 = 0
	InvalidIDOnes uint32 = math.MaxUint32
)

var numericRe = regexp.MustCompile(`^-?\d+$`)

// NormalizeName capitalizes the first letter and lowercases the rest.
// Only ASCII letters change; the server's names are ASCII and the
// other bytes of its 8-bit charset are left alone.
func NormalizeName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	if len(b) > 0 && 'a' <= b[0] && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// ParseUserID accepts a decimal id, including the negative form a signed
// decoder produces for ids of 2^31 and above, and returns the canonical
// unsigned id. Sentinels and values outside 32 bits are rejected.
func ParseUserID(s string) (uint32, bool) {
	if !numericRe.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < math.MinInt32 {
		return 0, false
	}
	return ValidUserID(word32.FixUnsigned(n))
}

// ValidUserID narrows n to a usable id.
func ValidUserID(n int64) (uint32, bool) {
	if n <= 0 || n > math.MaxUint32 {
		return 0, false
	}
	id := uint32(n)
	if id == InvalidIDZero || id == InvalidIDOnes {
		return 0, false
	}
	return id, true
}

// IsNumeric reports whether s looks like an id rather than a name.
func IsNumeric(s string) bool {
	return numericRe.MatchString(s)
}

type Cache struct {
	now func() time.Time

	idsByName map[string]uint32
	namesByID map[uint32]string
	pending   map[string]time.Time

	groupsByName map[string]protocol.GroupID
	groupNames   map[protocol.GroupID]string
	groupStatus  map[protocol.GroupID]uint32
}

// NewCache returns an empty cache. now may be nil.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	c := &Cache{now: now}
	c.Reset()
	return c
}

// Reset forgets everything.
func (c *Cache) Reset() {
	c.idsByName = make(map[string]uint32)
	c.namesByID = make(map[uint32]string)
	c.pending = make(map[string]time.Time)
	c.groupsByName = make(map[string]protocol.GroupID)
	c.groupNames = make(map[protocol.GroupID]string)
	c.groupStatus = make(map[protocol.GroupID]uint32)
}

// AddUser records a lookup or name response in both directions and clears
// the pending marker for the name.
func (c *Cache) AddUser(id uint32, name string) {
	name = NormalizeName(name)
	c.idsByName[name] = id
	c.namesByID[id] = name
	delete(c.pending, name)
}

// UserID returns the cached id for name. The id may still be one of the
// invalid sentinels; callers check with ValidUserID.
func (c *Cache) UserID(name string) (uint32, bool) {
	id, ok := c.idsByName[NormalizeName(name)]
	return id, ok
}

func (c *Cache) UserName(id uint32) (string, bool) {
	name, ok := c.namesByID[id]
	return name, ok
}

// ShouldLookup reports whether a lookup packet for name may go out now and,
// if so, marks the name pending. A name requested less than DebounceWindow
// ago is suppressed.
func (c *Cache) ShouldLookup(name string) bool {
	name = NormalizeName(name)
	now := c.now()
	if last, ok := c.pending[name]; ok && now.Sub(last) < DebounceWindow {
		return false
	}
	c.pending[name] = now
	return true
}

// Pending reports whether a lookup for name is outstanding.
func (c *Cache) Pending(name string) bool {
	_, ok := c.pending[NormalizeName(name)]
	return ok
}

// AddGroup records a group announcement.
func (c *Cache) AddGroup(gid protocol.GroupID, name string, status uint32) {
	c.groupStatus[gid] = status
	c.groupNames[gid] = name
	c.groupsByName[strings.ToLower(name)] = gid
}

// GroupID resolves a group name, case-insensitively, or passes a raw
// five-byte group id through as is.
func (c *Cache) GroupID(nameOrID string) (protocol.GroupID, bool) {
	if gid, ok := protocol.ParseGroupID(nameOrID); ok {
		return gid, true
	}
	gid, ok := c.groupsByName[strings.ToLower(nameOrID)]
	return gid, ok
}

func (c *Cache) GroupName(nameOrID string) (string, bool) {
	gid, ok := c.GroupID(nameOrID)
	if !ok {
		return "", false
	}
	name, ok := c.groupNames[gid]
	return name, ok
}

func (c *Cache) GroupStatus(gid protocol.GroupID) (uint32, bool) {
	status, ok := c.groupStatus[gid]
	return status, ok
}

// Groups lists the announced groups in id order.
func (c *Cache) Groups() []protocol.GroupID {
	gids := make([]protocol.GroupID, 0, len(c.groupStatus))
	for gid := range c.groupStatus {
		gids = append(gids, gid)
	}
	slices.SortFunc(gids, func(a, b protocol.GroupID) int {
		return bytes.Compare(a[:], b[:])
	})
	return gids
}
