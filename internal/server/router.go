package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/activity"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/auth"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/browse"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/interactions"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/logging"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/masking"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/preferences"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	viewerContextKey  = "portal_viewer"
	sessionContextKey = "portal_session"
	tokenContextKey   = "portal_token"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingMarketplace      = errors.New("marketplace client dependency required")
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingPreferences      = errors.New("preferences service dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, string, error)
}

// ViewerResolver maps session claims to a canonical viewer id.
type ViewerResolver interface {
	Resolve(claims auth.SessionClaims) (string, error)
}

// Marketplace is the subset of the upstream client the routes read from.
type Marketplace interface {
	FetchActivities(ctx context.Context, token string) ([]activity.Record, error)
	DeleteActivity(ctx context.Context, token, activityID string) error
	FetchProfiles(ctx context.Context, token, role string) ([]masking.Card, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Viewers          ViewerResolver
	Marketplace      Marketplace
	Sessions         *session.Manager
	Preferences      *preferences.Service
	Realtime         *RealtimeDispatcher
	AllowedOrigins   []string
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Marketplace == nil {
		return nil, errMissingMarketplace
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Preferences == nil {
		return nil, errMissingPreferences
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		validator:         deps.SessionValidator,
		viewers:           deps.Viewers,
		marketplace:       deps.Marketplace,
		sessions:          deps.Sessions,
		preferences:       deps.Preferences,
		realtime:          realtime,
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/relationships", handler.handleRelationships)
	protected.POST("/interactions/:action", handler.handleInteraction)
	protected.POST("/profiles/:partnerId/hide", handler.handleHideProfile)
	protected.GET("/browse", handler.handleBrowse)
	protected.GET("/activities", handler.handleActivities)
	protected.DELETE("/activities/:id", handler.handleDeleteActivity)
	protected.GET("/preferences", handler.handleListPreferences)
	protected.GET("/preferences/:key", handler.handleGetPreference)
	protected.PUT("/preferences/:key", handler.handlePutPreference)
	protected.DELETE("/preferences/:key", handler.handleDeletePreference)
	protected.GET("/events", handler.handleEvents)
	protected.POST("/logout", handler.handleLogout)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
			continue
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if wildcard || len(origins) == 0 {
		// Credentialed requests need the concrete origin echoed back.
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	validator         SessionValidator
	viewers           ViewerResolver
	marketplace       Marketplace
	sessions          *session.Manager
	preferences       *preferences.Service
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, token, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	viewerID := strings.TrimSpace(claims.UserID)
	if h.viewers != nil {
		resolved, resolveErr := h.viewers.Resolve(claims)
		if resolveErr != nil {
			h.logger.Error("viewer resolution failed", zap.Error(resolveErr))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		viewerID = resolved
	}

	current, err := h.sessions.Acquire(session.Viewer{ID: viewerID, Role: claims.Role(), Premium: claims.Premium()})
	if err != nil {
		h.logger.Warn("session acquire failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if current.ReconciledAt().IsZero() {
		if err := h.sessions.Reconcile(c.Request.Context(), current, token); err != nil {
			h.logger.Warn("initial relationship seed failed", zap.String("viewer_id", viewerID), zap.Error(err))
		}
	}

	c.Set(viewerContextKey, claims)
	c.Set(sessionContextKey, current)
	c.Set(tokenContextKey, token)
	c.Next()
}

func sessionFrom(c *gin.Context) (*session.Session, auth.SessionClaims, string) {
	current, _ := c.MustGet(sessionContextKey).(*session.Session)
	claims, _ := c.MustGet(viewerContextKey).(auth.SessionClaims)
	return current, claims, c.GetString(tokenContextKey)
}

type relationshipsResponsePayload struct {
	Relationships []relationships.Record `json:"relationships"`
	Hidden        []string               `json:"hidden"`
	Reconciled    bool                   `json:"reconciled"`
	ReconciledAt  *time.Time             `json:"reconciled_at,omitempty"`
}

func (h *httpHandler) handleRelationships(c *gin.Context) {
	current, _, token := sessionFrom(c)
	reconciled := true
	if err := h.sessions.Reconcile(c.Request.Context(), current, token); err != nil {
		reconciled = false
		h.logger.Warn("relationship refresh failed", zap.Error(err))
	}

	snapshot := current.Store.Snapshot()
	records := make([]relationships.Record, 0, len(snapshot))
	for _, record := range snapshot {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PartnerID < records[j].PartnerID })

	response := relationshipsResponsePayload{
		Relationships: records,
		Hidden:        current.Store.HiddenIDs(),
		Reconciled:    reconciled,
	}
	if reconciledAt := current.ReconciledAt(); !reconciledAt.IsZero() {
		response.ReconciledAt = &reconciledAt
	}
	c.JSON(http.StatusOK, response)
}

type interactionRequestPayload struct {
	PartnerID    string `json:"partnerId"`
	ReceiverRole string `json:"receiverRole"`
	Message      string `json:"message"`
}

type interactionResponsePayload struct {
	Success  bool                `json:"success"`
	State    relationships.State `json:"state"`
	Role     relationships.Role  `json:"role,omitempty"`
	Hidden   bool                `json:"hidden"`
	Navigate string              `json:"navigate,omitempty"`
}

func (h *httpHandler) handleInteraction(c *gin.Context) {
	action, err := interactions.ParseAction(c.Param("action"))
	if err != nil {
		h.respondInteractionError(c, err)
		return
	}

	var request interactionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PartnerID) == "" {
		h.respondInteractionError(c, interactions.ErrMissingPartner)
		return
	}

	current, claims, token := sessionFrom(c)
	receiverRole := strings.TrimSpace(request.ReceiverRole)
	if receiverRole == "" {
		receiverRole = claims.CounterpartRole()
	}

	result, err := current.Interactions.Dispatch(c.Request.Context(), action, interactions.Request{
		Token:        token,
		ViewerID:     current.Viewer().ID,
		PartnerID:    request.PartnerID,
		ReceiverRole: receiverRole,
		Message:      request.Message,
	})
	if err != nil {
		h.respondInteractionError(c, err)
		return
	}

	state := result.Record.State
	if !state.Valid() {
		state = relationships.StateNone
	}
	c.JSON(http.StatusOK, interactionResponsePayload{
		Success:  true,
		State:    state,
		Role:     result.Record.Role,
		Hidden:   result.Hidden,
		Navigate: result.Navigate,
	})
}

func (h *httpHandler) respondInteractionError(c *gin.Context, err error) {
	outcome := interactions.Classify(err)
	c.JSON(interactionStatus(outcome.Code), outcome)
}

func interactionStatus(code string) int {
	switch code {
	case "upgrade_required", "zero_coins", "insufficient_coins":
		return http.StatusPaymentRequired
	case "action_not_allowed", "action_in_flight":
		return http.StatusConflict
	case "invalid_request":
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (h *httpHandler) handleHideProfile(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	result, err := current.Interactions.Complete(c.Param("partnerId"))
	if err != nil {
		h.respondInteractionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "hidden": result.Hidden})
}

type browseResponsePayload struct {
	Profiles []masking.Card `json:"profiles"`
	Total    int            `json:"total"`
}

func (h *httpHandler) handleBrowse(c *gin.Context) {
	current, claims, token := sessionFrom(c)

	query := browse.Query{
		Text:      c.Query("q"),
		Specialty: c.Query("specialty"),
		Location:  c.Query("location"),
		SortBy:    c.Query("sort"),
	}
	if raw := strings.TrimSpace(c.Query("min_experience")); raw != "" {
		minExperience, err := strconv.Atoi(raw)
		if err != nil || minExperience < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_experience"})
			return
		}
		query.MinExperience = minExperience
	}
	role := strings.TrimSpace(c.Query("role"))
	if role == "" {
		role = claims.CounterpartRole()
	}

	cards, err := h.marketplace.FetchProfiles(c.Request.Context(), token, role)
	if err != nil {
		h.logger.Error("profile fetch failed", zap.String("operation", "server.browse"), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "profiles_unavailable"})
		return
	}

	// The query runs on projected cards so text search and name ordering only
	// see what the viewer is allowed to see.
	projected := masking.ProjectAll(browse.Filter(cards, current.Store), masking.Policy{Premium: current.Viewer().Premium})
	projected = query.Apply(projected)
	c.JSON(http.StatusOK, browseResponsePayload{Profiles: projected, Total: len(projected)})
}

func (h *httpHandler) handleActivities(c *gin.Context) {
	current, _, token := sessionFrom(c)

	var records []activity.Record
	group, groupCtx := errgroup.WithContext(c.Request.Context())
	group.Go(func() error {
		fetched, err := h.marketplace.FetchActivities(groupCtx, token)
		if err != nil {
			return err
		}
		records = fetched
		return nil
	})
	group.Go(func() error {
		if err := h.sessions.Reconcile(groupCtx, current, token); err != nil {
			h.logger.Warn("relationship refresh failed", zap.String("operation", "server.activities"), zap.Error(err))
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		h.logger.Error("activity fetch failed", zap.String("operation", "server.activities"), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "activities_unavailable"})
		return
	}

	feed := activity.BuildFeed(records, current.Store)
	if !current.Viewer().Premium {
		maskFeed(&feed)
	}
	c.JSON(http.StatusOK, feed)
}

// maskFeed redacts partner identity unless the partner's primary category is
// Accepted. The decision is per partner so a shortlisted connection reads the
// same in both buckets.
func maskFeed(feed *activity.Feed) {
	for _, bucket := range [][]activity.Entry{feed.Accepted, feed.Received, feed.Sent, feed.Shortlisted, feed.Declined, feed.Blocked, feed.Ignored} {
		for index := range bucket {
			if bucket[index].Category == activity.CategoryAccepted {
				continue
			}
			bucket[index].Record.PartnerName = masking.Mask(bucket[index].Record.PartnerName, false)
			bucket[index].Record.PartnerUniqueID = masking.Mask(bucket[index].Record.PartnerUniqueID, false)
		}
	}
}

type deleteActivityResponsePayload struct {
	Success bool           `json:"success"`
	Feed    *activity.Feed `json:"feed,omitempty"`
}

// handleDeleteActivity forwards the delete and answers with the rebuilt feed.
// The deleted record is filtered out locally in case the backend still lists it.
func (h *httpHandler) handleDeleteActivity(c *gin.Context) {
	current, _, token := sessionFrom(c)
	activityID := strings.TrimSpace(c.Param("id"))
	if activityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()
	if err := h.marketplace.DeleteActivity(ctx, token, activityID); err != nil {
		h.logger.Warn("activity delete failed", zap.String("activity_id", activityID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "activity_delete_failed"})
		return
	}

	response := deleteActivityResponsePayload{Success: true}
	records, err := h.marketplace.FetchActivities(ctx, token)
	if err != nil {
		h.logger.Warn("activity refetch failed", zap.String("operation", "server.delete_activity"), zap.Error(err))
		c.JSON(http.StatusOK, response)
		return
	}
	feed := activity.BuildFeed(activity.RemoveRecord(records, activityID), current.Store)
	if !current.Viewer().Premium {
		maskFeed(&feed)
	}
	response.Feed = &feed
	c.JSON(http.StatusOK, response)
}

// handleLogout drops the viewer's in-memory state. The session cookie belongs
// to the auth service and is left alone.
func (h *httpHandler) handleLogout(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	viewerID := current.Viewer().ID
	h.sessions.Forget(viewerID)
	h.logger.Info("viewer logged out", zap.String("viewer_id", viewerID))
	c.Status(http.StatusNoContent)
}

type preferenceRequestPayload struct {
	Value string `json:"value"`
}

func (h *httpHandler) handleListPreferences(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	c.JSON(http.StatusOK, gin.H{"preferences": h.preferences.List(c.Request.Context(), current.Viewer().ID)})
}

func (h *httpHandler) handleGetPreference(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	key := c.Param("key")
	if !preferences.ValidKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key"})
		return
	}
	value, ok := h.preferences.Get(c.Request.Context(), current.Viewer().ID, key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *httpHandler) handlePutPreference(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	var request preferenceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stored, err := h.preferences.Put(c.Request.Context(), current.Viewer().ID, c.Param("key"), request.Value)
	if err != nil {
		h.respondPreferenceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": stored.Key, "value": stored.Value, "updated_at": stored.UpdatedAt})
}

func (h *httpHandler) handleDeletePreference(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	if err := h.preferences.Delete(c.Request.Context(), current.Viewer().ID, c.Param("key")); err != nil {
		h.respondPreferenceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondPreferenceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, preferences.ErrInvalidKey) || errors.Is(err, preferences.ErrValueTooLarge) {
		status = http.StatusBadRequest
	} else {
		h.logger.Error("preference request failed", zap.Error(err))
	}
	body := gin.H{"error": "preference_failed"}
	var serviceErr *preferences.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}

type realtimeEventPayload struct {
	PartnerIDs []string `json:"partnerIds"`
	Hidden     bool     `json:"hidden"`
	Replaced   bool     `json:"replaced"`
	Timestamp  string   `json:"timestamp"`
	Source     string   `json:"source"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	current, _, _ := sessionFrom(c)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, current.Viewer().ID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				PartnerIDs: message.PartnerIDs,
				Hidden:     message.Hidden,
				Replaced:   message.Replaced,
				Timestamp:  message.Timestamp.Format(time.RFC3339Nano),
				Source:     realtimeSourceBackend,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}
