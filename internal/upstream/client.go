package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/activity"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/masking"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 15 * time.Second
	maxErrorBodyBytes  = 4 << 10
	requestIDHeader    = "X-Request-ID"
	jsonContentType    = "application/json"
	interactionsPrefix = "/api/interactions/"
)

var (
	errMissingBaseURL = errors.New("upstream: base url required")
	// ErrRequestFailed wraps transport failures and unexpected responses.
	ErrRequestFailed = errors.New("upstream: request failed")
)

// Error codes returned by the marketplace API for rejected interactions.
const (
	CodeUpgradeRequired   = "UPGRADE_REQUIRED"
	CodeZeroCoins         = "ZERO_COINS"
	CodeInsufficientCoins = "INSUFFICIENT_COINS"
)

// APIError is a rejection reported by the marketplace API in a well-formed body.
type APIError struct {
	Action string
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: %s rejected (%d): %s", e.Action, e.Status, e.Code)
}

// ClientConfig configures the marketplace API client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client calls the marketplace REST API on behalf of a viewer.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// InteractionRequest is the body of POST /api/interactions/{action}.
type InteractionRequest struct {
	SenderID     string `json:"senderId"`
	ReceiverRole string `json:"receiverRole"`
	ReceiverID   string `json:"receiverId"`
	Message      string `json:"message,omitempty"`
}

type interactionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PostInteraction submits an interaction. A body with success=false yields *APIError.
func (c *Client) PostInteraction(ctx context.Context, token, action string, request InteractionRequest) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("%w: action required", ErrRequestFailed)
	}
	var response interactionResponse
	status, err := c.do(ctx, token, http.MethodPost, interactionsPrefix+url.PathEscape(action), request, &response)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Action = action
		}
		return err
	}
	if !response.Success {
		return &APIError{Action: action, Status: status, Code: strings.TrimSpace(response.Error)}
	}
	return nil
}

// RelationshipPayload is one row of GET /api/relationships.
type RelationshipPayload struct {
	PartnerID string `json:"partnerId"`
	State     string `json:"state"`
	MyRole    string `json:"my_role"`
}

// FetchRelationships returns every relationship of the viewer.
func (c *Client) FetchRelationships(ctx context.Context, token string) ([]RelationshipPayload, error) {
	var payload []RelationshipPayload
	if _, err := c.do(ctx, token, http.MethodGet, "/api/relationships", nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FetchActivities returns the viewer's raw activity records.
func (c *Client) FetchActivities(ctx context.Context, token string) ([]activity.Record, error) {
	var payload []activity.Record
	if _, err := c.do(ctx, token, http.MethodGet, "/api/activities", nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// DeleteActivity removes one activity record.
func (c *Client) DeleteActivity(ctx context.Context, token, activityID string) error {
	activityID = strings.TrimSpace(activityID)
	if activityID == "" {
		return fmt.Errorf("%w: activity id required", ErrRequestFailed)
	}
	_, err := c.do(ctx, token, http.MethodDelete, "/api/activities/"+url.PathEscape(activityID), nil, nil)
	return err
}

// FetchProfiles returns browse cards for partners of the given role.
func (c *Client) FetchProfiles(ctx context.Context, token, role string) ([]masking.Card, error) {
	path := "/api/profiles"
	if role = strings.TrimSpace(role); role != "" {
		path += "?" + url.Values{"role": []string{role}}.Encode()
	}
	var payload []masking.Card
	if _, err := c.do(ctx, token, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: encode body: %v", ErrRequestFailed, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	requestID := uuid.NewString()
	request.Header.Set(requestIDHeader, requestID)
	request.Header.Set("Accept", jsonContentType)
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token = strings.TrimSpace(token); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		var rejection interactionResponse
		if json.Unmarshal(raw, &rejection) == nil && strings.TrimSpace(rejection.Error) != "" {
			return response.StatusCode, &APIError{Status: response.StatusCode, Code: strings.TrimSpace(rejection.Error)}
		}
		c.logger.Warn("upstream returned unexpected status",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Int("status", response.StatusCode))
		return response.StatusCode, fmt.Errorf("%w: %s %s returned %d", ErrRequestFailed, method, path, response.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return response.StatusCode, nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return response.StatusCode, fmt.Errorf("%w: decode %s: %v", ErrRequestFailed, path, err)
	}
	return response.StatusCode, nil
}
