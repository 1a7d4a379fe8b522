// Package session owns the per-viewer state containers: one relationship store and
// one interaction handler for each signed-in viewer, alive until logout.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/interactions"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/upstream"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	errMissingUpstream = errors.New("session: upstream client required")
	errMissingViewerID = errors.New("session: viewer id required")
)

const defaultReconcileTimeout = 15 * time.Second

// Viewer identifies the signed-in user and the plan that drives masking.
type Viewer struct {
	ID      string
	Role    string
	Premium bool
}

// Upstream is the subset of the marketplace client used by sessions.
type Upstream interface {
	interactions.Backend
	FetchRelationships(ctx context.Context, token string) ([]upstream.RelationshipPayload, error)
}

// Session is one viewer's state container.
type Session struct {
	Store        *relationships.Store
	Interactions *interactions.Handler
	CreatedAt    time.Time

	mu           sync.Mutex
	viewer       Viewer
	reconciledAt time.Time
	lastSeen     time.Time
}

// Viewer returns the viewer as of the latest Acquire.
func (s *Session) Viewer() Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

// ReconciledAt reports when the store was last seeded from the backend.
func (s *Session) ReconciledAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciledAt
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Upstream        Upstream
	CompletionDelay time.Duration
	Clock           func() time.Time
	Logger          *zap.Logger

	// ReconcileTimeout bounds the shared relationship fetch, which outlives any
	// single caller's request.
	ReconcileTimeout time.Duration
	// IdleTimeout evicts sessions not acquired for this long. Zero disables eviction.
	IdleTimeout time.Duration
	// OnChange observes every store mutation of every session.
	OnChange func(viewerID string, change relationships.Change)
}

// Manager creates and tracks sessions by viewer id.
type Manager struct {
	upstream         Upstream
	completionDelay  time.Duration
	reconcileTimeout time.Duration
	idleTimeout      time.Duration
	clock            func() time.Time
	logger           *zap.Logger
	onChange         func(string, relationships.Change)

	mu       sync.Mutex
	sessions map[string]*Session
	group    singleflight.Group
}

// NewManager validates cfg and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Upstream == nil {
		return nil, errMissingUpstream
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reconcileTimeout := cfg.ReconcileTimeout
	if reconcileTimeout <= 0 {
		reconcileTimeout = defaultReconcileTimeout
	}
	return &Manager{
		upstream:         cfg.Upstream,
		completionDelay:  cfg.CompletionDelay,
		reconcileTimeout: reconcileTimeout,
		idleTimeout:      cfg.IdleTimeout,
		clock:            clock,
		logger:           logger,
		onChange:         cfg.OnChange,
		sessions:         make(map[string]*Session),
	}, nil
}

// Acquire returns the viewer's session, creating it on first use. The plan and
// role are refreshed on every call so an upgrade takes effect immediately.
func (m *Manager) Acquire(viewer Viewer) (*Session, error) {
	viewerID := strings.TrimSpace(viewer.ID)
	if viewerID == "" {
		return nil, errMissingViewerID
	}
	viewer.ID = viewerID

	now := m.clock().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[viewerID]; ok {
		existing.mu.Lock()
		existing.viewer = viewer
		existing.lastSeen = now
		existing.mu.Unlock()
		return existing, nil
	}

	store := relationships.NewStore()
	if m.onChange != nil {
		onChange := m.onChange
		store.OnChange(func(change relationships.Change) {
			onChange(viewerID, change)
		})
	}
	handler, err := interactions.NewHandler(interactions.HandlerConfig{
		Store:           store,
		Backend:         m.upstream,
		CompletionDelay: m.completionDelay,
		Logger:          m.logger.With(zap.String("viewer_id", viewerID)),
	})
	if err != nil {
		return nil, err
	}
	created := &Session{
		viewer:       viewer,
		Store:        store,
		Interactions: handler,
		CreatedAt:    now,
		lastSeen:     now,
	}
	m.sessions[viewerID] = created
	m.logger.Debug("session created", zap.String("viewer_id", viewerID))
	return created, nil
}

// Lookup returns an existing session.
func (m *Manager) Lookup(viewerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[strings.TrimSpace(viewerID)]
	return existing, ok
}

// Forget drops the viewer's session.
func (m *Manager) Forget(viewerID string) {
	m.mu.Lock()
	delete(m.sessions, strings.TrimSpace(viewerID))
	m.mu.Unlock()
}

// EvictIdle drops every session last acquired more than the idle timeout ago
// and returns how many were removed.
func (m *Manager) EvictIdle() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.clock().UTC().Add(-m.idleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for viewerID, existing := range m.sessions {
		existing.mu.Lock()
		idle := existing.lastSeen.Before(cutoff)
		existing.mu.Unlock()
		if idle {
			delete(m.sessions, viewerID)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("idle sessions evicted", zap.Int("count", evicted))
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context, interval time.Duration) {
	if m.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// Reconcile replaces the session's store with the backend's relationships.
// Concurrent reconciles for one viewer share a single backend call, which runs
// detached from any caller so one cancelled request does not fail the others.
// A caller whose ctx ends stops waiting. On failure the store is left as it was.
func (m *Manager) Reconcile(ctx context.Context, current *Session, token string) error {
	if current == nil {
		return errMissingViewerID
	}
	viewerID := current.Viewer().ID
	results := m.group.DoChan(viewerID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.reconcileTimeout)
		defer cancel()
		payload, err := m.upstream.FetchRelationships(fetchCtx, token)
		if err != nil {
			m.logger.Warn("relationship reconcile failed",
				zap.String("operation", "session.reconcile"),
				zap.String("viewer_id", viewerID),
				zap.Error(err))
			return nil, err
		}
		current.Store.SetAll(RecordsFromPayload(payload))
		current.mu.Lock()
		current.reconciledAt = m.clock().UTC()
		current.mu.Unlock()
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-results:
		return result.Err
	}
}

// RecordsFromPayload normalises backend relationship rows into store records.
// Rows without a partner id are dropped.
func RecordsFromPayload(payload []upstream.RelationshipPayload) map[string]relationships.Record {
	records := make(map[string]relationships.Record, len(payload))
	for _, row := range payload {
		partnerID := strings.TrimSpace(row.PartnerID)
		if partnerID == "" {
			continue
		}
		records[partnerID] = relationships.Record{
			PartnerID: partnerID,
			State:     relationships.ParseState(row.State),
			Role:      relationships.ParseRole(row.MyRole),
		}
	}
	return records
}
