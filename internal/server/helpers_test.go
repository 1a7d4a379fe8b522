package server

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/activity"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/auth"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/masking"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/preferences"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/session"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/upstream"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "portal_session"
	testIssuer        = "advocates-auth"
)

type fakeMarketplace struct {
	mu            sync.Mutex
	relationships []upstream.RelationshipPayload
	activities    []activity.Record
	profiles      []masking.Card
	rejections    map[string]string
	posted        []string
	deleted       []string
	relFetches    int
	profileRoles  []string
}

func (f *fakeMarketplace) PostInteraction(_ context.Context, _ string, action string, request upstream.InteractionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, action+":"+request.ReceiverID+":"+request.ReceiverRole)
	if code, ok := f.rejections[action]; ok {
		return &upstream.APIError{Action: action, Status: http.StatusOK, Code: code}
	}
	return nil
}

func (f *fakeMarketplace) FetchRelationships(context.Context, string) ([]upstream.RelationshipPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relFetches++
	return append([]upstream.RelationshipPayload(nil), f.relationships...), nil
}

func (f *fakeMarketplace) FetchActivities(context.Context, string) ([]activity.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]activity.Record(nil), f.activities...), nil
}

func (f *fakeMarketplace) DeleteActivity(_ context.Context, _ string, activityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, activityID)
	return nil
}

func (f *fakeMarketplace) FetchProfiles(_ context.Context, _ string, role string) ([]masking.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileRoles = append(f.profileRoles, role)
	return append([]masking.Card(nil), f.profiles...), nil
}

type testHarness struct {
	handler   http.Handler
	market    *fakeMarketplace
	sessions  *session.Manager
	realtime  *RealtimeDispatcher
	validator *auth.SessionValidator
}

func newTestHarness(t *testing.T, market *fakeMarketplace, logger *zap.Logger) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if market == nil {
		market = &fakeMarketplace{}
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&preferences.Preference{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	prefs, err := preferences.NewService(preferences.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create preferences: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	sessions, err := session.NewManager(session.ManagerConfig{
		Upstream: market,
		OnChange: realtime.PublishChange,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Marketplace:      market,
		Sessions:         sessions,
		Preferences:      prefs,
		Realtime:         realtime,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testHarness{handler: handler, market: market, sessions: sessions, realtime: realtime, validator: validator}
}

func signSession(t *testing.T, userID, role, plan string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:   userID,
		UserRole: role,
		UserPlan: plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func withSession(request *http.Request, token string) *http.Request {
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	return request
}
