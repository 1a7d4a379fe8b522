package viewers

import (
	"strings"
	"time"
)

// Identity maps a provider login to the canonical viewer id used for sessions,
// relationships and preferences.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	ViewerID    string    `gorm:"column:viewer_id;size:190;not null;index"`
	Email       string    `gorm:"column:viewer_email;size:320"`
	DisplayName string    `gorm:"column:viewer_display_name;size:320"`
	Role        string    `gorm:"column:viewer_role;size:32"`
	Plan        string    `gorm:"column:viewer_plan;size:64"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing viewer identities.
func (Identity) TableName() string {
	return "viewer_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
