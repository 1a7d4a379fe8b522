package relationships

import "strings"

// State enumerates the viewer's relationship to a partner.
type State string

const (
	StateNone          State = "NONE"
	StateInterest      State = "INTEREST"
	StateSuperInterest State = "SUPER_INTEREST"
	StateAccepted      State = "ACCEPTED"
	StateConnected     State = "CONNECTED"
	StateShortlisted   State = "SHORTLISTED"
	StateDeclined      State = "DECLINED"
	StateBlocked       State = "BLOCKED"
	StateIgnored       State = "IGNORED"
)

// Role records who initiated the interaction, from the viewer's perspective.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

var stateAliases = map[string]State{
	"none":          StateNone,
	"interest":      StateInterest,
	"interested":    StateInterest,
	"superinterest": StateSuperInterest,
	"accept":        StateAccepted,
	"accepted":      StateAccepted,
	"connect":       StateConnected,
	"connected":     StateConnected,
	"shortlist":     StateShortlisted,
	"shortlisted":   StateShortlisted,
	"decline":       StateDeclined,
	"declined":      StateDeclined,
	"block":         StateBlocked,
	"blocked":       StateBlocked,
	"ignore":        StateIgnored,
	"ignored":       StateIgnored,
}

// ParseState converts a raw backend or UI string into a State.
// Unknown and empty values normalise to StateNone.
func ParseState(raw string) State {
	if state, ok := stateAliases[squash(raw)]; ok {
		return state
	}
	return StateNone
}

// ParseRole converts a raw role string into a Role. Anything that is not
// recognisably the receiving side is treated as the sender.
func ParseRole(raw string) Role {
	switch squash(raw) {
	case "receiver", "recipient", "received", "target":
		return RoleReceiver
	default:
		return RoleSender
	}
}

// Valid reports whether the state is one of the declared constants.
func (s State) Valid() bool {
	switch s {
	case StateNone, StateInterest, StateSuperInterest, StateAccepted, StateConnected,
		StateShortlisted, StateDeclined, StateBlocked, StateIgnored:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

func (r Role) String() string {
	return string(r)
}

// squash lower-cases and strips separators so that "SUPER_INTEREST",
// "super-interest" and "superInterest" compare equal.
func squash(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(lowered)
}
