package preferences

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, logger *zap.Logger) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "prefs.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Preference{}); err != nil {
		t.Fatalf("failed to migrate preferences: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, ok := service.Get(ctx, "viewer-1", "tour.browse"); ok {
		t.Fatalf("expected unset preference")
	}
	if _, err := service.Put(ctx, "viewer-1", "tour.browse", "done"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := service.Put(ctx, "viewer-1", "tour.browse", "skipped"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, ok := service.Get(ctx, "viewer-1", "tour.browse")
	if !ok || value != "skipped" {
		t.Fatalf("expected overwritten value, got %q %v", value, ok)
	}
	if _, ok := service.Get(ctx, "viewer-2", "tour.browse"); ok {
		t.Fatalf("expected preferences to be scoped per viewer")
	}

	if err := service.Delete(ctx, "viewer-1", "tour.browse"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := service.Delete(ctx, "viewer-1", "tour.browse"); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}
	if _, ok := service.Get(ctx, "viewer-1", "tour.browse"); ok {
		t.Fatalf("expected deleted preference")
	}
}

func TestPutRejectsUnknownKeys(t *testing.T) {
	service, _ := newTestService(t, nil)
	for _, key := range []string{"", "theme", "tour.", "search.preset.", "auth.token"} {
		_, err := service.Put(context.Background(), "viewer-1", key, "x")
		if !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected invalid key error for %q, got %v", key, err)
		}
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) || serviceErr.Code() != "preferences.put.invalid_key" {
			t.Fatalf("unexpected service error %v", err)
		}
	}
	if _, err := service.Put(context.Background(), "viewer-1", "onboarding.done", strings.Repeat("x", maxValueBytes+1)); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected value too large, got %v", err)
	}
}

func TestListReturnsViewerPreferences(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()
	_, _ = service.Put(ctx, "viewer-1", "onboarding.welcome", "seen")
	_, _ = service.Put(ctx, "viewer-1", "search.preset.delhi", `{"location":"Delhi"}`)
	_, _ = service.Put(ctx, "viewer-2", "tour.browse", "done")

	values := service.List(ctx, "viewer-1")
	if len(values) != 2 || values["search.preset.delhi"] != `{"location":"Delhi"}` {
		t.Fatalf("unexpected preferences %v", values)
	}
}

func TestReadFailureDegradesToUnset(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	service, db := newTestService(t, zap.New(core))
	_, _ = service.Put(context.Background(), "viewer-1", "tour.browse", "done")

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	_ = sqlDB.Close()

	if _, ok := service.Get(context.Background(), "viewer-1", "tour.browse"); ok {
		t.Fatalf("expected unreadable preference to report unset")
	}
	if values := service.List(context.Background(), "viewer-1"); len(values) != 0 {
		t.Fatalf("expected empty list, got %v", values)
	}
	if logs.FilterMessage("preference read failed").Len() != 1 {
		t.Fatalf("expected read failure warning, got %v", logs.All())
	}
}
