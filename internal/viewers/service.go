// Package viewers resolves session claims to a stable canonical viewer id.
package viewers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("viewers: invalid identity")

// ServiceConfig describes the dependencies required for viewer resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical viewer ids and their provider identities.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the viewer service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("viewers: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the canonical viewer id for the claims, recording the identity
// on first sight and refreshing its profile fields afterwards.
func (s *Service) Resolve(claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if viewerID, ok := cached.(string); ok {
			return viewerID, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			ViewerID:    subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			Role:        claims.Role(),
			Plan:        normalize(claims.UserPlan),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["viewer_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["viewer_display_name"] = display
		}
		if role := claims.Role(); role != identity.Role {
			updates["viewer_role"] = role
		}
		if plan := normalize(claims.UserPlan); plan != identity.Plan {
			updates["viewer_plan"] = plan
		}
		if err := s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("viewer identity refresh failed",
				zap.String("operation", "viewers.resolve"),
				zap.String("viewer_id", identity.ViewerID),
				zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, identity.ViewerID)
	return identity.ViewerID, nil
}

// Lookup returns the stored identity for a canonical viewer id.
func (s *Service) Lookup(viewerID string) (Identity, error) {
	var identity Identity
	err := s.db.Where("viewer_id = ?", normalize(viewerID)).Order("updated_at desc").First(&identity).Error
	return identity, err
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
