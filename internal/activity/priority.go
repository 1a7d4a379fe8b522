package activity

import (
	"strings"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
)

// Category names the activity dashboard bucket an entry belongs to.
type Category string

const (
	CategoryAccepted    Category = "accepted"
	CategoryReceived    Category = "received"
	CategorySent        Category = "sent"
	CategoryShortlisted Category = "shortlisted"
	CategoryDeclined    Category = "declined"
	CategoryBlocked     Category = "blocked"
	CategoryIgnored     Category = "ignored"
	CategoryRemoved     Category = "removed"
	CategoryOther       Category = "other"
)

// PriorityExcluded marks statuses that never reach a bucket.
const PriorityExcluded = 999

// Ranking is the priority (lower wins) and category of a status.
type Ranking struct {
	Priority int
	Category Category
}

// Excluded reports whether the ranking is kept out of every bucket.
func (r Ranking) Excluded() bool {
	return r.Priority >= PriorityExcluded
}

var priorityTable = map[string]Ranking{
	"accepted":                {1, CategoryAccepted},
	"super_accepted":          {1, CategoryAccepted},
	"interest_received":       {2, CategoryReceived},
	"super_interest_received": {2, CategoryReceived},
	"interest_sent":           {3, CategorySent},
	"super_interest_sent":     {3, CategorySent},
	"interest":                {3, CategorySent},
	"superinterest":           {3, CategorySent},
	"shortlist":               {4, CategoryShortlisted},
	"shortlisted":             {4, CategoryShortlisted},
	"shortlisted_sent":        {4, CategoryShortlisted},
	"declined":                {5, CategoryDeclined},
	"blocked":                 {6, CategoryBlocked},
	"ignored":                 {7, CategoryIgnored},
	"shortlisted_received":    {PriorityExcluded, CategoryRemoved},
	"removed":                 {PriorityExcluded, CategoryRemoved},
	"cancelled":               {PriorityExcluded, CategoryRemoved},
	"shortlist_removed":       {PriorityExcluded, CategoryRemoved},
	"unblocked":               {PriorityExcluded, CategoryRemoved},
}

const statusMeetRequest = "meet_request"

// Rank looks up status in the priority table. Status is compared lower-cased.
// meet_request depends on who sent it; unknown statuses are excluded as "other".
func Rank(status string, role relationships.Role) Ranking {
	normalized := strings.ToLower(strings.TrimSpace(status))
	if normalized == statusMeetRequest {
		if role == relationships.RoleReceiver {
			return Ranking{2, CategoryReceived}
		}
		return Ranking{3, CategorySent}
	}
	if ranking, ok := priorityTable[normalized]; ok {
		return ranking
	}
	return Ranking{PriorityExcluded, CategoryOther}
}

// IsShortlistStatus reports whether a raw status is one of the shortlist rows.
func IsShortlistStatus(status string) bool {
	return Rank(status, relationships.RoleSender).Category == CategoryShortlisted
}

// StatusForState maps a live relationship state onto the raw status vocabulary so
// store-seeded entries can be ranked with the same table. NONE yields "".
func StatusForState(state relationships.State, role relationships.Role) string {
	received := role == relationships.RoleReceiver
	switch state {
	case relationships.StateInterest:
		if received {
			return "interest_received"
		}
		return "interest_sent"
	case relationships.StateSuperInterest:
		if received {
			return "super_interest_received"
		}
		return "super_interest_sent"
	case relationships.StateAccepted, relationships.StateConnected:
		return "accepted"
	case relationships.StateShortlisted:
		return "shortlisted"
	case relationships.StateDeclined:
		return "declined"
	case relationships.StateBlocked:
		return "blocked"
	case relationships.StateIgnored:
		return "ignored"
	default:
		return ""
	}
}
