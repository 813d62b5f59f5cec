package protocol

import "fmt"

// Packet types. The same number can mean different things in each direction
// (21 is a lookup request going out and a lookup result coming in).
const (
	TypeLoginSeed      uint16 = 0
	TypeLoginRequest   uint16 = 2
	TypeLoginSelect    uint16 = 3
	TypeLoginOK        uint16 = 5
	TypeLoginError     uint16 = 6
	TypeLoginCharlist  uint16 = 7
	TypeClientUnknown  uint16 = 10
	TypeClientName     uint16 = 20
	TypeClientLookup   uint16 = 21
	TypeMsgPrivate     uint16 = 30
	TypeMsgVicinity    uint16 = 34
	TypeMsgVicinityA   uint16 = 35
	TypeMsgSystem      uint16 = 36
	TypeChatNotice     uint16 = 37
	TypeBuddyAdd       uint16 = 40
	TypeBuddyRemove    uint16 = 41
	TypeOnlineSet      uint16 = 42
	TypePrivgrpInvite  uint16 = 50
	TypePrivgrpKick    uint16 = 51
	TypePrivgrpJoin    uint16 = 52
	TypePrivgrpPart    uint16 = 53
	TypePrivgrpKickAll uint16 = 54
	TypePrivgrpCliJoin uint16 = 55
	TypePrivgrpCliPart uint16 = 56
	TypePrivgrpMessage uint16 = 57
	TypePrivgrpRefuse  uint16 = 58
	TypeGroupAnnounce  uint16 = 60
	TypeGroupPart      uint16 = 61
	TypeGroupDataSet   uint16 = 64
	TypeGroupMessage   uint16 = 65
	TypeGroupCMSet     uint16 = 66
	TypeClientModeGet  uint16 = 70
	TypeClientModeSet  uint16 = 71
	TypePing           uint16 = 100
	TypeForward        uint16 = 110
	TypeCC             uint16 = 120
	TypeAdmMuxInfo     uint16 = 1100
)

// Group status flags carried by group announcements.
const (
	GroupNoWrite uint32 = 0x00000002
	GroupNoAsian uint32 = 0x00000020
	GroupMute    uint32 = 0x01010000
	GroupLog     uint32 = 0x02020000
)

type Schema struct {
	Name string
	Args string // one Kind letter per argument
}

func (s Schema) check(args []Arg) error {
	if len(args) != len(s.Args) {
		return fmt.Errorf("%w: %s wants %d args, got %d", ErrSchemaMismatch, s.Name, len(s.Args), len(args))
	}
	for i, arg := range args {
		if arg == nil || arg.Kind() != Kind(s.Args[i]) {
			return fmt.Errorf("%w: %s arg %d wants %c", ErrSchemaMismatch, s.Name, i, s.Args[i])
		}
	}
	return nil
}

var schemas = map[Direction]map[uint16]Schema{
	In: {
		TypeLoginSeed:      {"Login Seed", "S"},
		TypeLoginOK:        {"Login Result OK", ""},
		TypeLoginError:     {"Login Result Error", "S"},
		TypeLoginCharlist:  {"Login CharacterList", "isii"},
		TypeClientUnknown:  {"Client Unknown", "I"},
		TypeClientName:     {"Client Name", "IS"},
		TypeClientLookup:   {"Lookup Result", "IS"},
		TypeMsgPrivate:     {"Message Private", "ISS"},
		TypeMsgVicinity:    {"Message Vicinity", "ISS"},
		TypeMsgVicinityA:   {"Message Anon Vicinity", "SSS"},
		TypeMsgSystem:      {"Message System", "S"},
		TypeChatNotice:     {"Chat Notice", "IIIS"},
		TypeBuddyAdd:       {"Buddy Added", "IIS"},
		TypeBuddyRemove:    {"Buddy Removed", "I"},
		TypePrivgrpInvite:  {"Privategroup Invited", "I"},
		TypePrivgrpKick:    {"Privategroup Kicked", "I"},
		TypePrivgrpPart:    {"Privategroup Part", "I"},
		TypePrivgrpCliJoin: {"Privategroup Client Join", "II"},
		TypePrivgrpCliPart: {"Privategroup Client Part", "II"},
		TypePrivgrpMessage: {"Privategroup Message", "IISS"},
		TypePrivgrpRefuse:  {"Privategroup Refuse Invite", "II"},
		TypeGroupAnnounce:  {"Group Announce", "GSIS"},
		TypeGroupPart:      {"Group Part", "G"},
		TypeGroupMessage:   {"Group Message", "GISS"},
		TypePing:           {"Pong", "S"},
		TypeForward:        {"Forward", "IB"},
		TypeAdmMuxInfo:     {"Adm Mux Info", "iii"},
	},
	Out: {
		TypeLoginRequest:   {"Login Response GetCharLst", "ISS"},
		TypeLoginSelect:    {"Login Select Character", "I"},
		TypeClientLookup:   {"Name Lookup", "S"},
		TypeMsgPrivate:     {"Message Private", "ISS"},
		TypeBuddyAdd:       {"Buddy Add", "IS"},
		TypeBuddyRemove:    {"Buddy Remove", "I"},
		TypeOnlineSet:      {"Onlinestatus Set", "I"},
		TypePrivgrpInvite:  {"Privategroup Invite", "I"},
		TypePrivgrpKick:    {"Privategroup Kick", "I"},
		TypePrivgrpJoin:    {"Privategroup Join", "I"},
		TypePrivgrpPart:    {"Privategroup Part", "I"},
		TypePrivgrpKickAll: {"Privategroup Kickall", ""},
		TypePrivgrpMessage: {"Privategroup Message", "ISS"},
		TypeGroupDataSet:   {"Group Data Set", "GIS"},
		TypeGroupMessage:   {"Group Message", "GSS"},
		TypeGroupCMSet:     {"Group Clientmode Set", "GIIII"},
		TypeClientModeGet:  {"Clientmode Get", "IG"},
		TypeClientModeSet:  {"Clientmode Set", "IIII"},
		TypePing:           {"Ping", "S"},
		TypeCC:             {"CC", "s"},
	},
}

// SchemaFor looks up the argument layout of a packet type.
func SchemaFor(dir Direction, typ uint16) (Schema, bool) {
	s, ok := schemas[dir][typ]
	return s, ok
}

// Types lists every type with a schema in the given direction.
func Types(dir Direction) []uint16 {
	types := make([]uint16, 0, len(schemas[dir]))
	for typ := range schemas[dir] {
		types = append(types, typ)
	}
	return types
}
