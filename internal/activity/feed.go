package activity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
)

const displayIDRunes = 8

// Entry is the single winning activity for a partner.
type Entry struct {
	PartnerID string   `json:"partnerId"`
	Record    Record   `json:"record"`
	Priority  int      `json:"priority"`
	Category  Category `json:"category"`
	Synthetic bool     `json:"synthetic"`
}

// Dedupe holds one entry per partner plus the number of raw records that were
// dropped for lacking a partner id.
type Dedupe struct {
	Entries map[string]Entry
	Skipped int
}

// Deduplicate merges live relationship state and raw activity into one entry per
// partner. Store state seeds the map so the feed renders before the slower activity
// fetch lands; a raw record replaces an entry only with a strictly lower priority,
// otherwise it can only backfill missing display fields.
func Deduplicate(records []Record, snapshot map[string]relationships.Record) Dedupe {
	result := Dedupe{Entries: make(map[string]Entry, len(snapshot)+len(records))}

	for key, relationship := range snapshot {
		partnerID := strings.TrimSpace(relationship.PartnerID)
		if partnerID == "" {
			partnerID = strings.TrimSpace(key)
		}
		status := StatusForState(relationship.State, relationship.Role)
		if partnerID == "" || status == "" {
			continue
		}
		ranking := Rank(status, relationship.Role)
		result.Entries[partnerID] = Entry{
			PartnerID: partnerID,
			Record:    placeholderRecord(partnerID, status, relationship.Role),
			Priority:  ranking.Priority,
			Category:  ranking.Category,
			Synthetic: true,
		}
	}

	for _, record := range records {
		partnerID := record.PartnerID()
		if partnerID == "" {
			result.Skipped++
			continue
		}
		ranking := record.Ranking()
		existing, ok := result.Entries[partnerID]
		if !ok || ranking.Priority < existing.Priority {
			winner := record
			if ok {
				winner = backfill(winner, existing.Record, false)
			}
			result.Entries[partnerID] = Entry{
				PartnerID: partnerID,
				Record:    winner,
				Priority:  ranking.Priority,
				Category:  ranking.Category,
			}
			continue
		}
		existing.Record = backfill(existing.Record, record, existing.Synthetic)
		result.Entries[partnerID] = existing
	}

	return result
}

// Feed is the activity dashboard: one bucket per category.
type Feed struct {
	Accepted    []Entry `json:"accepted"`
	Received    []Entry `json:"received"`
	Sent        []Entry `json:"sent"`
	Shortlisted []Entry `json:"shortlisted"`
	Declined    []Entry `json:"declined"`
	Blocked     []Entry `json:"blocked"`
	Ignored     []Entry `json:"ignored"`
	Skipped     int     `json:"skipped"`
}

// BuildFeed deduplicates and buckets activity. Every bucket except Shortlisted is
// filled from the partner's primary category. Shortlisted is the union of raw
// shortlist records, entries ranked shortlisted and live SHORTLISTED relationships,
// minus partners whose live state was reset to NONE.
func BuildFeed(records []Record, view relationships.View) Feed {
	snapshot := map[string]relationships.Record{}
	if view != nil {
		snapshot = view.Snapshot()
	}
	dedupe := Deduplicate(records, snapshot)
	feed := Feed{Skipped: dedupe.Skipped}

	for _, entry := range dedupe.Entries {
		switch entry.Category {
		case CategoryAccepted:
			feed.Accepted = append(feed.Accepted, entry)
		case CategoryReceived:
			feed.Received = append(feed.Received, entry)
		case CategorySent:
			feed.Sent = append(feed.Sent, entry)
		case CategoryDeclined:
			feed.Declined = append(feed.Declined, entry)
		case CategoryBlocked:
			feed.Blocked = append(feed.Blocked, entry)
		case CategoryIgnored:
			feed.Ignored = append(feed.Ignored, entry)
		}
	}

	shortlisted := make(map[string]struct{})
	for _, record := range records {
		if partnerID := record.PartnerID(); partnerID != "" && IsShortlistStatus(record.EffectiveStatus()) {
			shortlisted[partnerID] = struct{}{}
		}
	}
	for partnerID, entry := range dedupe.Entries {
		if entry.Category == CategoryShortlisted {
			shortlisted[partnerID] = struct{}{}
		}
	}
	for key, relationship := range snapshot {
		partnerID := relationship.PartnerID
		if partnerID == "" {
			partnerID = key
		}
		if relationship.State == relationships.StateShortlisted {
			shortlisted[partnerID] = struct{}{}
		}
	}
	for key, relationship := range snapshot {
		if relationship.State != relationships.StateNone {
			continue
		}
		partnerID := relationship.PartnerID
		if partnerID == "" {
			partnerID = key
		}
		delete(shortlisted, partnerID)
	}
	for partnerID := range shortlisted {
		if entry, ok := dedupe.Entries[partnerID]; ok {
			feed.Shortlisted = append(feed.Shortlisted, entry)
		}
	}

	for _, bucket := range [][]Entry{feed.Accepted, feed.Received, feed.Sent, feed.Shortlisted, feed.Declined, feed.Blocked, feed.Ignored} {
		sortEntries(bucket)
	}
	return feed
}

// Primary returns the deduplicated category for partnerID, or CategoryOther when absent.
func (f Feed) Primary(partnerID string) Category {
	for _, bucket := range [][]Entry{f.Accepted, f.Received, f.Sent, f.Declined, f.Blocked, f.Ignored} {
		for _, entry := range bucket {
			if entry.PartnerID == partnerID {
				return entry.Category
			}
		}
	}
	for _, entry := range f.Shortlisted {
		if entry.PartnerID == partnerID && entry.Category == CategoryShortlisted {
			return CategoryShortlisted
		}
	}
	return CategoryOther
}

// Contains reports whether partnerID is listed in the bucket for category.
func (f Feed) Contains(category Category, partnerID string) bool {
	var bucket []Entry
	switch category {
	case CategoryAccepted:
		bucket = f.Accepted
	case CategoryReceived:
		bucket = f.Received
	case CategorySent:
		bucket = f.Sent
	case CategoryShortlisted:
		bucket = f.Shortlisted
	case CategoryDeclined:
		bucket = f.Declined
	case CategoryBlocked:
		bucket = f.Blocked
	case CategoryIgnored:
		bucket = f.Ignored
	}
	for _, entry := range bucket {
		if entry.PartnerID == partnerID {
			return true
		}
	}
	return false
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		left, right := entries[i].Record.CreatedAt, entries[j].Record.CreatedAt
		if !left.Equal(right) {
			return left.After(right)
		}
		return entries[i].PartnerID < entries[j].PartnerID
	})
}

func placeholderRecord(partnerID, status string, role relationships.Role) Record {
	return Record{
		PartnerUserID:   partnerID,
		PartnerUniqueID: displayID(partnerID),
		Type:            status,
		Status:          status,
		IsSender:        role != relationships.RoleReceiver,
	}
}

func displayID(partnerID string) string {
	trimmed := partnerID
	if utf8.RuneCountInString(trimmed) > displayIDRunes {
		trimmed = string([]rune(trimmed)[:displayIDRunes])
	}
	return "#" + strings.ToUpper(trimmed)
}

// backfill copies display fields from source into target where target lacks them.
// When replaceUniqueID is set the target's generated display id yields to source's.
func backfill(target, source Record, replaceUniqueID bool) Record {
	if target.PartnerName == "" {
		target.PartnerName = source.PartnerName
	}
	if target.PartnerImg == "" {
		target.PartnerImg = source.PartnerImg
	}
	if target.PartnerLocation == "" {
		target.PartnerLocation = source.PartnerLocation
	}
	if target.PartnerAge == 0 {
		target.PartnerAge = source.PartnerAge
	}
	if target.PartnerRole == "" {
		target.PartnerRole = source.PartnerRole
	}
	if target.PartnerUniqueID == "" || (replaceUniqueID && source.PartnerUniqueID != "") {
		target.PartnerUniqueID = source.PartnerUniqueID
	}
	if target.ID == "" {
		target.ID = source.ID
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = source.CreatedAt
	}
	return target
}
