package relationships

import (
	"sort"
	"strings"
	"sync"
)

// Record is the viewer's relationship to a single partner.
type Record struct {
	PartnerID string `json:"partnerId"`
	State     State  `json:"state"`
	Role      Role   `json:"role"`
}

// Patch carries the fields to merge into an existing record. Nil fields are left untouched.
type Patch struct {
	State *State
	Role  *Role
}

// Change describes a store mutation for listeners.
type Change struct {
	PartnerIDs []string
	Hidden     bool
	Replaced   bool
}

// View is the read-only surface consumed by list filtering and the activity feed.
type View interface {
	Get(partnerID string) (Record, bool)
	IsHidden(partnerID string) bool
	Snapshot() map[string]Record
}

// Store is a session-scoped overwrite map of partner relationships plus a set of
// partners hidden from actionable lists. It never validates transitions; the
// remote backend is the authority and the store mirrors it.
type Store struct {
	mu        sync.RWMutex
	records   map[string]Record
	hidden    map[string]struct{}
	listeners []func(Change)
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]Record),
		hidden:  make(map[string]struct{}),
	}
}

// Set overwrites the record for partnerID.
func (s *Store) Set(partnerID string, state State, role Role) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return
	}
	s.mu.Lock()
	s.records[partnerID] = Record{PartnerID: partnerID, State: state, Role: role}
	s.mu.Unlock()
	s.notify(Change{PartnerIDs: []string{partnerID}})
}

// Update shallow-merges patch into the record for partnerID, creating it when absent.
func (s *Store) Update(partnerID string, patch Patch) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return
	}
	s.mu.Lock()
	record, ok := s.records[partnerID]
	if !ok {
		record = Record{PartnerID: partnerID}
	}
	if patch.State != nil {
		record.State = *patch.State
	}
	if patch.Role != nil {
		record.Role = *patch.Role
	}
	s.records[partnerID] = record
	s.mu.Unlock()
	s.notify(Change{PartnerIDs: []string{partnerID}})
}

// SetAll replaces the whole table. Hidden ids are kept.
func (s *Store) SetAll(records map[string]Record) {
	next := make(map[string]Record, len(records))
	for key, record := range records {
		partnerID := strings.TrimSpace(record.PartnerID)
		if partnerID == "" {
			partnerID = strings.TrimSpace(key)
		}
		if partnerID == "" {
			continue
		}
		record.PartnerID = partnerID
		next[partnerID] = record
	}
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	s.notify(Change{PartnerIDs: sortedKeys(next), Replaced: true})
}

// Hide suppresses partnerID from browse lists without recording a state.
func (s *Store) Hide(partnerID string) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return
	}
	s.mu.Lock()
	s.hidden[partnerID] = struct{}{}
	s.mu.Unlock()
	s.notify(Change{PartnerIDs: []string{partnerID}, Hidden: true})
}

// Get returns the record for partnerID.
func (s *Store) Get(partnerID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[strings.TrimSpace(partnerID)]
	return record, ok
}

// StateOf returns the partner's state, StateNone when unknown.
func (s *Store) StateOf(partnerID string) State {
	record, ok := s.Get(partnerID)
	if !ok || record.State == "" {
		return StateNone
	}
	return record.State
}

// IsHidden reports whether partnerID was hidden via Hide.
func (s *Store) IsHidden(partnerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hidden[strings.TrimSpace(partnerID)]
	return ok
}

// HiddenIDs returns the hidden partner ids in ascending order.
func (s *Store) HiddenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.hidden)
}

// Snapshot returns a copy of every record.
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[string]Record, len(s.records))
	for key, record := range s.records {
		copied[key] = record
	}
	return copied
}

// OnChange registers a listener invoked after every mutation.
// Listeners run synchronously on the mutating goroutine.
func (s *Store) OnChange(listener func(Change)) {
	if listener == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.RUnlock()
	for _, listener := range listeners {
		listener(change)
	}
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
