// Package preferences persists the per-viewer onboarding flags, tour progress and
// saved search presets that a browser would otherwise keep in local storage.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("preferences: database required")
	errMissingViewerID = errors.New("preferences: viewer id required")

	// ErrInvalidKey means the key is outside the allowed namespaces.
	ErrInvalidKey = errors.New("preferences: key not allowed")
	// ErrValueTooLarge means the value exceeds maxValueBytes.
	ErrValueTooLarge = errors.New("preferences: value too large")
)

const (
	opServiceNew = "preferences.service.new"
	opGet        = "preferences.get"
	opPut        = "preferences.put"
	opDelete     = "preferences.delete"
	opList       = "preferences.list"

	reasonMissingDatabase = "missing_database"
	reasonMissingViewer   = "missing_viewer"
	reasonInvalidKey      = "invalid_key"
	reasonValueTooLarge   = "value_too_large"
	reasonWriteFailed     = "write_failed"
	reasonDeleteFailed    = "delete_failed"

	maxKeyLength  = 128
	maxValueBytes = 16 << 10
)

var allowedPrefixes = []string{"tour.", "onboarding.", "search.preset."}

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service reads and writes viewer preferences.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// ValidKey reports whether key belongs to an allowed namespace.
func ValidKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return true
		}
	}
	return false
}

// Get returns the stored value. Storage failures are logged and reported as not set.
func (s *Service) Get(ctx context.Context, viewerID, key string) (string, bool) {
	viewerID, key = strings.TrimSpace(viewerID), strings.TrimSpace(key)
	if viewerID == "" || !ValidKey(key) {
		return "", false
	}
	var stored Preference
	err := s.db.WithContext(ctx).
		Where("viewer_id = ? AND pref_key = ?", viewerID, key).
		Take(&stored).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("preference read failed",
			zap.String("operation", opGet),
			zap.String("key", key),
			zap.Error(err))
		return "", false
	}
	return stored.Value, true
}

// Put upserts the value for key.
func (s *Service) Put(ctx context.Context, viewerID, key, value string) (Preference, error) {
	viewerID, key = strings.TrimSpace(viewerID), strings.TrimSpace(key)
	if viewerID == "" {
		return Preference{}, newServiceError(opPut, reasonMissingViewer, errMissingViewerID)
	}
	if !ValidKey(key) {
		return Preference{}, newServiceError(opPut, reasonInvalidKey, ErrInvalidKey)
	}
	if len(value) > maxValueBytes {
		return Preference{}, newServiceError(opPut, reasonValueTooLarge, ErrValueTooLarge)
	}
	record := Preference{
		ViewerID:  viewerID,
		Key:       key,
		Value:     value,
		UpdatedAt: s.clock().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "viewer_id"}, {Name: "pref_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"pref_value", "updated_at"}),
		}).
		Create(&record).
		Error
	if err != nil {
		s.logger.Error("preference write failed",
			zap.String("operation", opPut),
			zap.String("reason", reasonWriteFailed),
			zap.String("key", key),
			zap.Error(err))
		return Preference{}, newServiceError(opPut, reasonWriteFailed, err)
	}
	return record, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Service) Delete(ctx context.Context, viewerID, key string) error {
	viewerID, key = strings.TrimSpace(viewerID), strings.TrimSpace(key)
	if viewerID == "" {
		return newServiceError(opDelete, reasonMissingViewer, errMissingViewerID)
	}
	if !ValidKey(key) {
		return newServiceError(opDelete, reasonInvalidKey, ErrInvalidKey)
	}
	err := s.db.WithContext(ctx).
		Where("viewer_id = ? AND pref_key = ?", viewerID, key).
		Delete(&Preference{}).
		Error
	if err != nil {
		return newServiceError(opDelete, reasonDeleteFailed, err)
	}
	return nil
}

// List returns all of the viewer's preferences keyed by name. Storage failures
// yield an empty map.
func (s *Service) List(ctx context.Context, viewerID string) map[string]string {
	values := map[string]string{}
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return values
	}
	var stored []Preference
	if err := s.db.WithContext(ctx).Where("viewer_id = ?", viewerID).Order("pref_key").Find(&stored).Error; err != nil {
		s.logger.Warn("preference list failed", zap.String("operation", opList), zap.Error(err))
		return values
	}
	for _, preference := range stored {
		if !ValidKey(preference.Key) {
			continue
		}
		values[preference.Key] = preference.Value
	}
	return values
}
