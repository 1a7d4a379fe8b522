package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/preferences"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPurgeUnknownPreferenceKeys = "2026-07-14_purge_unknown_preference_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPurgeUnknownPreferenceKeys, apply: purgeUnknownPreferenceKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// purgeUnknownPreferenceKeys removes rows whose key is outside the accepted
// namespaces; they can never be read back through the preferences service.
func purgeUnknownPreferenceKeys(db *gorm.DB) error {
	var stored []preferences.Preference
	if err := db.Select("viewer_id", "pref_key").Find(&stored).Error; err != nil {
		return err
	}
	for _, preference := range stored {
		if preferences.ValidKey(preference.Key) {
			continue
		}
		if err := db.Where("viewer_id = ? AND pref_key = ?", preference.ViewerID, preference.Key).
			Delete(&preferences.Preference{}).Error; err != nil {
			return err
		}
	}
	return nil
}
