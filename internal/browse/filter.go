// Package browse derives the visible partner grid for browse screens.
package browse

import (
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/masking"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
)

// Visible reports whether a partner belongs in a browse grid.
// ACCEPTED and BLOCKED partners are always excluded. Hidden partners are excluded
// unless they are SHORTLISTED, so bookmarked profiles stay actionable.
func Visible(partnerID string, view relationships.View) bool {
	if view == nil {
		return true
	}
	state := relationships.StateNone
	if record, ok := view.Get(partnerID); ok {
		state = record.State
	}
	switch state {
	case relationships.StateAccepted, relationships.StateBlocked:
		return false
	}
	if view.IsHidden(partnerID) {
		return state == relationships.StateShortlisted
	}
	return true
}

// Filter keeps the visible cards in their original order.
func Filter(cards []masking.Card, view relationships.View) []masking.Card {
	visible := make([]masking.Card, 0, len(cards))
	for _, card := range cards {
		if Visible(card.PartnerID, view) {
			visible = append(visible, card)
		}
	}
	return visible
}

// Sort orders understood by Query.
const (
	SortDefault    = ""
	SortExperience = "experience"
	SortName       = "name"
)

// Query narrows and orders an already fetched grid.
type Query struct {
	Text          string
	Specialty     string
	Location      string
	MinExperience int
	SortBy        string
}

// Apply filters cards by the query and sorts them. The input slice is not reordered.
func (q Query) Apply(cards []masking.Card) []masking.Card {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	specialty := strings.ToLower(strings.TrimSpace(q.Specialty))
	location := strings.ToLower(strings.TrimSpace(q.Location))

	matched := make([]masking.Card, 0, len(cards))
	for _, card := range cards {
		if text != "" && !strings.Contains(strings.ToLower(card.Name), text) && !strings.Contains(strings.ToLower(card.Location), text) {
			continue
		}
		if location != "" && !strings.Contains(strings.ToLower(card.Location), location) {
			continue
		}
		if specialty != "" && !hasSpecialty(card.Specialties, specialty) {
			continue
		}
		if card.Experience < q.MinExperience {
			continue
		}
		matched = append(matched, card)
	}

	switch strings.ToLower(strings.TrimSpace(q.SortBy)) {
	case SortExperience:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Experience > matched[j].Experience
		})
	case SortName:
		sort.SliceStable(matched, func(i, j int) bool {
			return strings.ToLower(matched[i].Name) < strings.ToLower(matched[j].Name)
		})
	}
	return matched
}

func hasSpecialty(specialties []string, want string) bool {
	for _, specialty := range specialties {
		if strings.EqualFold(strings.TrimSpace(specialty), want) {
			return true
		}
	}
	return false
}
