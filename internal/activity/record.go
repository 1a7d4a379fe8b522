package activity

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
)

// Record is a raw activity event as returned by the marketplace API.
type Record struct {
	ID              string    `json:"id"`
	PartnerUserID   string    `json:"partnerUserId"`
	PartnerUniqueID string    `json:"partnerUniqueId"`
	PartnerName     string    `json:"partnerName"`
	PartnerImg      string    `json:"partnerImg"`
	PartnerLocation string    `json:"partnerLocation"`
	PartnerAge      int       `json:"partnerAge"`
	PartnerRole     string    `json:"partnerRole"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	IsSender        bool      `json:"isSender"`
	CreatedAt       time.Time `json:"createdAt"`
}

// PartnerID resolves the partner identity, falling back to the public unique id.
func (r Record) PartnerID() string {
	if id := strings.TrimSpace(r.PartnerUserID); id != "" {
		return id
	}
	return strings.TrimSpace(r.PartnerUniqueID)
}

// EffectiveStatus prefers the outcome status over the action type.
func (r Record) EffectiveStatus() string {
	if status := strings.TrimSpace(r.Status); status != "" {
		return status
	}
	return strings.TrimSpace(r.Type)
}

// Role returns the viewer's role in the interaction.
func (r Record) Role() relationships.Role {
	if r.IsSender {
		return relationships.RoleSender
	}
	return relationships.RoleReceiver
}

// Ranking ranks the record by its effective status.
func (r Record) Ranking() Ranking {
	return Rank(r.EffectiveStatus(), r.Role())
}

// RemoveRecord returns records without the one matching id.
func RemoveRecord(records []Record, id string) []Record {
	filtered := make([]Record, 0, len(records))
	for _, record := range records {
		if record.ID == id {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered
}
