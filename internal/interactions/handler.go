package interactions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/upstream"
	"go.uber.org/zap"
)

// Action is a UI action name.
type Action string

const (
	ActionInterest      Action = "interest"
	ActionSuperInterest Action = "superInterest"
	ActionShortlist     Action = "shortlist"
	ActionMessageSent   Action = "message_sent"
	ActionOpenChat      Action = "openFullChatPage"
	ActionComplete      Action = "interaction_complete"
)

// Upstream action names for POST /api/interactions/{action}.
const (
	upstreamInterest      = "interest"
	upstreamSuperInterest = "superInterest"
	upstreamShortlist     = "shortlist"
	upstreamMessage       = "message"
	upstreamChat          = "chat"
)

var (
	errMissingStore   = errors.New("interactions: relationship store required")
	errMissingBackend = errors.New("interactions: backend required")
)

// ParseAction normalises a UI action name.
func ParseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(strings.TrimSpace(raw))) {
	case "interest":
		return ActionInterest, nil
	case "superinterest":
		return ActionSuperInterest, nil
	case "shortlist":
		return ActionShortlist, nil
	case "messagesent", "message":
		return ActionMessageSent, nil
	case "openfullchatpage", "chat":
		return ActionOpenChat, nil
	case "interactioncomplete", "complete":
		return ActionComplete, nil
	default:
		return "", ErrUnknownAction
	}
}

// Backend submits interactions to the marketplace API.
type Backend interface {
	PostInteraction(ctx context.Context, token, action string, request upstream.InteractionRequest) error
}

// Request describes a single user action against a partner.
type Request struct {
	Token        string
	ViewerID     string
	PartnerID    string
	ReceiverRole string
	Message      string
}

// Result reports the store effect of a successful action.
type Result struct {
	Action   Action               `json:"action"`
	Record   relationships.Record `json:"record"`
	Hidden   bool                 `json:"hidden"`
	Navigate string               `json:"navigate,omitempty"`
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Store           *relationships.Store
	Backend         Backend
	CompletionDelay time.Duration
	Logger          *zap.Logger
}

// Handler mediates user actions between the marketplace API and the relationship
// store. Every mutating action awaits the backend first and only then touches the
// store, so a failed call leaves the store exactly as it was.
type Handler struct {
	store           *relationships.Store
	backend         Backend
	completionDelay time.Duration
	logger          *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewHandler validates cfg and constructs a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	delay := cfg.CompletionDelay
	if delay < 0 {
		delay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:           cfg.Store,
		backend:         cfg.Backend,
		completionDelay: delay,
		logger:          logger,
		inFlight:        make(map[string]struct{}),
	}, nil
}

// Dispatch routes action to the matching operation.
func (h *Handler) Dispatch(ctx context.Context, action Action, request Request) (Result, error) {
	switch action {
	case ActionInterest:
		return h.Interest(ctx, request)
	case ActionSuperInterest:
		return h.SuperInterest(ctx, request)
	case ActionShortlist:
		return h.Shortlist(ctx, request)
	case ActionMessageSent:
		return h.SendMessage(ctx, request)
	case ActionOpenChat:
		return h.OpenChat(ctx, request)
	case ActionComplete:
		return h.Complete(request.PartnerID)
	default:
		return Result{}, ErrUnknownAction
	}
}

// Interest sends an interest. It is refused once an interest, super interest or
// connection already exists.
func (h *Handler) Interest(ctx context.Context, request Request) (Result, error) {
	return h.escalate(ctx, request, ActionInterest, upstreamInterest, relationships.StateInterest,
		relationships.StateInterest, relationships.StateSuperInterest, relationships.StateAccepted, relationships.StateConnected)
}

// SuperInterest sends a coin-funded super interest. It never downgrades an
// accepted or connected relationship.
func (h *Handler) SuperInterest(ctx context.Context, request Request) (Result, error) {
	return h.escalate(ctx, request, ActionSuperInterest, upstreamSuperInterest, relationships.StateSuperInterest,
		relationships.StateSuperInterest, relationships.StateAccepted, relationships.StateConnected)
}

func (h *Handler) escalate(ctx context.Context, request Request, action Action, upstreamAction string, target relationships.State, refused ...relationships.State) (Result, error) {
	partnerID, err := partnerOf(request)
	if err != nil {
		return Result{}, err
	}
	release, err := h.begin(partnerID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	current := h.store.StateOf(partnerID)
	for _, state := range refused {
		if current == state {
			return Result{}, ErrActionNotAllowed
		}
	}

	// Phase 1: the backend decides.
	if err := h.submit(ctx, upstreamAction, request); err != nil {
		return Result{}, err
	}

	// Phase 2: mirror the confirmed action locally.
	if settled := h.store.StateOf(partnerID); settled != relationships.StateAccepted && settled != relationships.StateConnected {
		h.store.Set(partnerID, target, relationships.RoleSender)
	}
	record, _ := h.store.Get(partnerID)
	return Result{Action: action, Record: record}, nil
}

// Shortlist toggles the bookmark: SHORTLISTED becomes NONE, anything else becomes
// SHORTLISTED. The initiator role of an existing record is kept.
func (h *Handler) Shortlist(ctx context.Context, request Request) (Result, error) {
	partnerID, err := partnerOf(request)
	if err != nil {
		return Result{}, err
	}
	release, err := h.begin(partnerID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	role := relationships.RoleSender
	next := relationships.StateShortlisted
	if existing, ok := h.store.Get(partnerID); ok {
		if existing.Role != "" {
			role = existing.Role
		}
		if existing.State == relationships.StateShortlisted {
			next = relationships.StateNone
		}
	}

	if err := h.submit(ctx, upstreamShortlist, request); err != nil {
		return Result{}, err
	}

	h.store.Set(partnerID, next, role)
	record, _ := h.store.Get(partnerID)
	return Result{Action: ActionShortlist, Record: record}, nil
}

// SendMessage sends a chat message without changing the relationship state, then
// after the completion delay removes the partner from actionable lists. When ctx
// ends during the delay the completion is skipped.
func (h *Handler) SendMessage(ctx context.Context, request Request) (Result, error) {
	partnerID, err := partnerOf(request)
	if err != nil {
		return Result{}, err
	}
	if err := h.submit(ctx, upstreamMessage, request); err != nil {
		return Result{}, err
	}

	record, _ := h.store.Get(partnerID)
	result := Result{Action: ActionMessageSent, Record: record}

	if h.completionDelay > 0 {
		timer := time.NewTimer(h.completionDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			h.logger.Debug("interaction completion skipped", zap.String("partner_id", partnerID), zap.Error(ctx.Err()))
			return result, nil
		case <-timer.C:
		}
	}

	h.store.Hide(partnerID)
	result.Hidden = true
	return result, nil
}

// OpenChat is a navigation signal. The chat is recorded upstream on a best-effort basis.
func (h *Handler) OpenChat(ctx context.Context, request Request) (Result, error) {
	partnerID, err := partnerOf(request)
	if err != nil {
		return Result{}, err
	}
	if err := h.submit(ctx, upstreamChat, request); err != nil {
		h.logger.Info("chat activity not recorded", zap.String("partner_id", partnerID), zap.Error(err))
	}
	record, _ := h.store.Get(partnerID)
	return Result{Action: ActionOpenChat, Record: record, Navigate: "/chat/" + partnerID}, nil
}

// Complete hides the partner from actionable lists. No backend write is made.
func (h *Handler) Complete(partnerID string) (Result, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return Result{}, ErrMissingPartner
	}
	h.store.Hide(partnerID)
	record, _ := h.store.Get(partnerID)
	return Result{Action: ActionComplete, Record: record, Hidden: true}, nil
}

// Busy reports whether an action for partnerID is in flight.
func (h *Handler) Busy(partnerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.inFlight[strings.TrimSpace(partnerID)]
	return ok
}

func (h *Handler) begin(partnerID string) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inFlight[partnerID]; ok {
		return nil, ErrActionInFlight
	}
	h.inFlight[partnerID] = struct{}{}
	return func() {
		h.mu.Lock()
		delete(h.inFlight, partnerID)
		h.mu.Unlock()
	}, nil
}

func (h *Handler) submit(ctx context.Context, upstreamAction string, request Request) error {
	err := h.backend.PostInteraction(ctx, request.Token, upstreamAction, upstream.InteractionRequest{
		SenderID:     request.ViewerID,
		ReceiverRole: request.ReceiverRole,
		ReceiverID:   strings.TrimSpace(request.PartnerID),
		Message:      request.Message,
	})
	if err == nil {
		return nil
	}
	translated := translate(err)
	h.logger.Warn("interaction rejected",
		zap.String("operation", "interactions."+upstreamAction),
		zap.String("reason", Classify(translated).Code),
		zap.String("partner_id", request.PartnerID),
		zap.Error(err))
	return translated
}

func partnerOf(request Request) (string, error) {
	partnerID := strings.TrimSpace(request.PartnerID)
	if partnerID == "" {
		return "", ErrMissingPartner
	}
	return partnerID, nil
}
