package preferences

import "time"

// Preference is one persisted UI flag or saved search for a viewer.
type Preference struct {
	ViewerID  string    `gorm:"column:viewer_id;primaryKey;size:190;not null"`
	Key       string    `gorm:"column:pref_key;primaryKey;size:190;not null"`
	Value     string    `gorm:"column:pref_value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing viewer preferences.
func (Preference) TableName() string {
	return "viewer_preferences"
}
