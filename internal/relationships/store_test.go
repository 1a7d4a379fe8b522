package relationships

import "testing"

func TestParseStateNormalisesVariants(t *testing.T) {
	testCases := map[string]State{
		"SUPER_INTEREST": StateSuperInterest,
		"superInterest":  StateSuperInterest,
		"super-interest": StateSuperInterest,
		" interest ":     StateInterest,
		"Shortlist":      StateShortlisted,
		"SHORTLISTED":    StateShortlisted,
		"accepted":       StateAccepted,
		"CONNECTED":      StateConnected,
		"blocked":        StateBlocked,
		"":               StateNone,
		"visit":          StateNone,
	}
	for raw, want := range testCases {
		if got := ParseState(raw); got != want {
			t.Fatalf("ParseState(%q): got %s want %s", raw, got, want)
		}
	}
}

func TestStateValid(t *testing.T) {
	for _, raw := range []string{"SUPER_INTEREST", "visit", ""} {
		if !ParseState(raw).Valid() {
			t.Fatalf("expected parsed state for %q to be valid", raw)
		}
	}
	if State("").Valid() || State("PENDING").Valid() {
		t.Fatalf("expected undeclared states to be invalid")
	}
}

func TestParseRoleDefaultsToSender(t *testing.T) {
	if ParseRole("RECEIVER") != RoleReceiver {
		t.Fatalf("expected receiver role")
	}
	if ParseRole("initiator") != RoleSender {
		t.Fatalf("expected unknown role to default to sender")
	}
}

func TestStoreSetOverwrites(t *testing.T) {
	store := NewStore()
	store.Set("p1", StateInterest, RoleSender)
	store.Set("p1", StateBlocked, RoleReceiver)

	snapshot := store.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(snapshot))
	}
	record := snapshot["p1"]
	if record.State != StateBlocked || record.Role != RoleReceiver {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestStoreUpdateMergesAndCreates(t *testing.T) {
	store := NewStore()
	shortlisted := StateShortlisted
	store.Update("p1", Patch{State: &shortlisted})

	record, ok := store.Get("p1")
	if !ok {
		t.Fatalf("expected update to create record")
	}
	if record.State != StateShortlisted || record.Role != "" {
		t.Fatalf("unexpected created record: %+v", record)
	}

	receiver := RoleReceiver
	store.Update("p1", Patch{Role: &receiver})
	record, _ = store.Get("p1")
	if record.State != StateShortlisted || record.Role != RoleReceiver {
		t.Fatalf("expected merge to keep state and set role, got %+v", record)
	}
}

func TestStoreSetAllReplacesTable(t *testing.T) {
	store := NewStore()
	store.Set("stale", StateInterest, RoleSender)
	store.Hide("hidden-1")

	store.SetAll(map[string]Record{
		"p2": {State: StateAccepted, Role: RoleReceiver},
		"":   {PartnerID: "", State: StateBlocked},
	})

	if _, ok := store.Get("stale"); ok {
		t.Fatalf("expected stale record to be dropped")
	}
	record, ok := store.Get("p2")
	if !ok || record.PartnerID != "p2" || record.State != StateAccepted {
		t.Fatalf("unexpected record after SetAll: %+v", record)
	}
	if len(store.Snapshot()) != 1 {
		t.Fatalf("expected records without partner id to be skipped")
	}
	if !store.IsHidden("hidden-1") {
		t.Fatalf("expected hidden ids to survive SetAll")
	}
}

func TestStoreHideIsIndependentOfState(t *testing.T) {
	store := NewStore()
	store.Hide("p3")
	store.Hide("p1")

	if store.StateOf("p3") != StateNone {
		t.Fatalf("expected hide not to record a state")
	}
	hidden := store.HiddenIDs()
	if len(hidden) != 2 || hidden[0] != "p1" || hidden[1] != "p3" {
		t.Fatalf("unexpected hidden ids: %v", hidden)
	}
}

func TestStoreIgnoresEmptyPartnerID(t *testing.T) {
	store := NewStore()
	store.Set("  ", StateInterest, RoleSender)
	store.Hide("")
	if len(store.Snapshot()) != 0 || len(store.HiddenIDs()) != 0 {
		t.Fatalf("expected empty partner ids to be ignored")
	}
}

func TestStoreNotifiesListeners(t *testing.T) {
	store := NewStore()
	var changes []Change
	store.OnChange(func(change Change) {
		changes = append(changes, change)
	})

	store.Set("p1", StateInterest, RoleSender)
	store.Hide("p1")
	store.SetAll(map[string]Record{"p2": {PartnerID: "p2", State: StateShortlisted}})

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if !changes[1].Hidden {
		t.Fatalf("expected hide change to be flagged")
	}
	if !changes[2].Replaced || len(changes[2].PartnerIDs) != 1 || changes[2].PartnerIDs[0] != "p2" {
		t.Fatalf("unexpected bulk change: %+v", changes[2])
	}
}

func TestFreshStoresDoNotShareState(t *testing.T) {
	first := NewStore()
	second := NewStore()
	first.Set("p1", StateInterest, RoleSender)
	if _, ok := second.Get("p1"); ok {
		t.Fatalf("expected stores to be isolated")
	}
}
