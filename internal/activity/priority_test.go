package activity

import (
	"testing"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
)

func TestRankTable(t *testing.T) {
	testCases := []struct {
		status   string
		role     relationships.Role
		priority int
		category Category
	}{
		{"accepted", relationships.RoleSender, 1, CategoryAccepted},
		{"SUPER_ACCEPTED", relationships.RoleSender, 1, CategoryAccepted},
		{"interest_received", relationships.RoleReceiver, 2, CategoryReceived},
		{"super_interest_received", relationships.RoleReceiver, 2, CategoryReceived},
		{"interest_sent", relationships.RoleSender, 3, CategorySent},
		{"super_interest_sent", relationships.RoleSender, 3, CategorySent},
		{"interest", relationships.RoleReceiver, 3, CategorySent},
		{"superInterest", relationships.RoleSender, 3, CategorySent},
		{"shortlist", relationships.RoleSender, 4, CategoryShortlisted},
		{"Shortlisted", relationships.RoleSender, 4, CategoryShortlisted},
		{"shortlisted_sent", relationships.RoleSender, 4, CategoryShortlisted},
		{"declined", relationships.RoleSender, 5, CategoryDeclined},
		{"blocked", relationships.RoleSender, 6, CategoryBlocked},
		{"ignored", relationships.RoleSender, 7, CategoryIgnored},
		{"meet_request", relationships.RoleReceiver, 2, CategoryReceived},
		{"meet_request", relationships.RoleSender, 3, CategorySent},
		{"shortlisted_received", relationships.RoleSender, PriorityExcluded, CategoryRemoved},
		{"removed", relationships.RoleSender, PriorityExcluded, CategoryRemoved},
		{"cancelled", relationships.RoleSender, PriorityExcluded, CategoryRemoved},
		{"shortlist_removed", relationships.RoleSender, PriorityExcluded, CategoryRemoved},
		{"unblocked", relationships.RoleSender, PriorityExcluded, CategoryRemoved},
		{"visit", relationships.RoleSender, PriorityExcluded, CategoryOther},
		{"", relationships.RoleSender, PriorityExcluded, CategoryOther},
	}
	for _, testCase := range testCases {
		ranking := Rank(testCase.status, testCase.role)
		if ranking.Priority != testCase.priority || ranking.Category != testCase.category {
			t.Fatalf("Rank(%q, %s): got %+v want {%d %s}", testCase.status, testCase.role, ranking, testCase.priority, testCase.category)
		}
	}
}

func TestRankExcluded(t *testing.T) {
	if !Rank("removed", relationships.RoleSender).Excluded() {
		t.Fatalf("expected removed to be excluded")
	}
	if Rank("ignored", relationships.RoleSender).Excluded() {
		t.Fatalf("expected ignored to be bucketed")
	}
}

func TestStatusForStateRoundTripsThroughTable(t *testing.T) {
	testCases := []struct {
		state    relationships.State
		role     relationships.Role
		category Category
	}{
		{relationships.StateInterest, relationships.RoleSender, CategorySent},
		{relationships.StateInterest, relationships.RoleReceiver, CategoryReceived},
		{relationships.StateSuperInterest, relationships.RoleReceiver, CategoryReceived},
		{relationships.StateConnected, relationships.RoleSender, CategoryAccepted},
		{relationships.StateShortlisted, relationships.RoleSender, CategoryShortlisted},
		{relationships.StateIgnored, relationships.RoleReceiver, CategoryIgnored},
	}
	for _, testCase := range testCases {
		status := StatusForState(testCase.state, testCase.role)
		if got := Rank(status, testCase.role).Category; got != testCase.category {
			t.Fatalf("state %s/%s mapped to %q ranked %s, want %s", testCase.state, testCase.role, status, got, testCase.category)
		}
	}
	if StatusForState(relationships.StateNone, relationships.RoleSender) != "" {
		t.Fatalf("expected NONE to have no status")
	}
}
