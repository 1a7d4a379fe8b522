package interactions

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/upstream"
)

var (
	// ErrUpgradeRequired means the viewer's plan does not include the action.
	ErrUpgradeRequired = errors.New("interactions: upgrade required")
	// ErrZeroCoins means the viewer has no coins left.
	ErrZeroCoins = errors.New("interactions: zero coins")
	// ErrInsufficientCoins means the balance does not cover the action.
	ErrInsufficientCoins = errors.New("interactions: insufficient coins")
	// ErrRequestFailed covers network and validation failures.
	ErrRequestFailed = errors.New("interactions: request failed")
	// ErrActionNotAllowed means the current relationship state forbids the action.
	ErrActionNotAllowed = errors.New("interactions: action not allowed in current state")
	// ErrActionInFlight means another action for the same partner has not settled.
	ErrActionInFlight = errors.New("interactions: action already in flight")
	// ErrUnknownAction means the action name is not recognised.
	ErrUnknownAction = errors.New("interactions: unknown action")
	// ErrMissingPartner means the request did not name a partner.
	ErrMissingPartner = errors.New("interactions: partner id required")
)

// UIResponse tells the frontend how to surface a failure.
type UIResponse string

const (
	UIResponseNone        UIResponse = ""
	UIResponseOpenUpgrade UIResponse = "open_upgrade"
	UIResponseOpenTopUp   UIResponse = "open_top_up"
	UIResponseToast       UIResponse = "toast"
)

// Outcome is the user-facing classification of an action error.
type Outcome struct {
	Code       string     `json:"error"`
	UIResponse UIResponse `json:"ui_response"`
	Message    string     `json:"message"`
	Retryable  bool       `json:"retryable"`
}

// Classify maps err onto the error taxonomy. A nil error yields the zero Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{}
	case errors.Is(err, ErrUpgradeRequired):
		return Outcome{Code: "upgrade_required", UIResponse: UIResponseOpenUpgrade, Message: "Upgrade your plan to use this feature."}
	case errors.Is(err, ErrZeroCoins):
		return Outcome{Code: "zero_coins", UIResponse: UIResponseOpenTopUp, Message: "You have no coins left. Top up to continue."}
	case errors.Is(err, ErrInsufficientCoins):
		return Outcome{Code: "insufficient_coins", UIResponse: UIResponseOpenTopUp, Message: "You do not have enough coins for this action. Top up to continue."}
	case errors.Is(err, ErrActionNotAllowed):
		return Outcome{Code: "action_not_allowed", UIResponse: UIResponseToast, Message: "This action is no longer available for this profile."}
	case errors.Is(err, ErrActionInFlight):
		return Outcome{Code: "action_in_flight", UIResponse: UIResponseToast, Message: "Please wait for the previous action to finish.", Retryable: true}
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrMissingPartner):
		return Outcome{Code: "invalid_request", UIResponse: UIResponseToast, Message: "The request could not be processed."}
	default:
		return Outcome{Code: "request_failed", UIResponse: UIResponseToast, Message: "Something went wrong. Please try again.", Retryable: true}
	}
}

// translate converts an upstream failure into a taxonomy error.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		switch strings.ToUpper(strings.TrimSpace(apiErr.Code)) {
		case upstream.CodeUpgradeRequired:
			return errors.Join(ErrUpgradeRequired, err)
		case upstream.CodeZeroCoins:
			return errors.Join(ErrZeroCoins, err)
		case upstream.CodeInsufficientCoins:
			return errors.Join(ErrInsufficientCoins, err)
		}
	}
	return errors.Join(ErrRequestFailed, err)
}
