package masking

import "strings"

// CardTypeFeatured marks cards that always reveal identity fields.
const CardTypeFeatured = "featured"

// Policy decides whether a card is rendered revealed or masked.
type Policy struct {
	Premium  bool
	CardType string
}

// Reveal reports whether identity fields are shown unmasked.
func (p Policy) Reveal() bool {
	return p.Premium || strings.EqualFold(strings.TrimSpace(p.CardType), CardTypeFeatured)
}

// Card is the advocate/client card view model.
type Card struct {
	PartnerID    string   `json:"partnerId"`
	Name         string   `json:"name"`
	UniqueID     string   `json:"unique_id"`
	BarCouncilID string   `json:"bar_council_id,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	Specialties  []string `json:"specialties,omitempty"`
	Location     string   `json:"location,omitempty"`
	Experience   int      `json:"experience,omitempty"`
	Age          int      `json:"age,omitempty"`
	Shares       int      `json:"shares,omitempty"`
	Masked       bool     `json:"masked"`
}

// Project returns a render copy of card with identity fields masked per policy.
// Name, unique id and bar council id are masked independently; the input is not modified.
func Project(card Card, policy Policy) Card {
	projected := card
	if len(card.Specialties) > 0 {
		projected.Specialties = append([]string(nil), card.Specialties...)
	}
	reveal := policy.Reveal()
	projected.Name = Mask(card.Name, reveal)
	projected.UniqueID = Mask(card.UniqueID, reveal)
	if card.BarCouncilID != "" || !reveal {
		projected.BarCouncilID = Mask(card.BarCouncilID, reveal)
	}
	projected.Masked = !reveal
	return projected
}

// ProjectAll applies Project to every card.
func ProjectAll(cards []Card, policy Policy) []Card {
	if cards == nil {
		return nil
	}
	projected := make([]Card, 0, len(cards))
	for _, card := range cards {
		projected = append(projected, Project(card, policy))
	}
	return projected
}
