// Package apierr defines the error taxonomy shared by the rate limiter, the
// Raindrop HTTP client and the tool layer.
//
// Every error carries a Kind and, where one level is not enough, a Reason.
// Both are decided once, where the failure is first observed (usually when an
// HTTP response is classified), and are never re-derived from message text.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the broad category of a failure
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindPermission     Kind = "permission"
	KindServer         Kind = "server"
	KindNetwork        Kind = "network"
	KindAPI            Kind = "api"
)

// Reason refines a Kind
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidToken      Reason = "invalid_token"
	ReasonExpiredToken      Reason = "expired_token"
	ReasonMissingToken      Reason = "missing_token"
	ReasonCircuitOpen       Reason = "circuit_open"
	ReasonQueueTimeout      Reason = "queue_timeout"
	ReasonQueueFull         Reason = "queue_full"
	ReasonUpstreamThrottled Reason = "upstream_throttled"
	ReasonTimeout           Reason = "timeout"
	ReasonRetriesExhausted  Reason = "retries_exhausted"
	ReasonMissingField      Reason = "missing_field"
	ReasonInvalidInput      Reason = "invalid_input"
)

const tokenSettingsURL = "https://app.raindrop.io/settings/integrations"

// Sentinels for errors.Is. A sentinel with an empty Reason matches any reason
// of its Kind.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrInvalidToken   = &Error{Kind: KindAuthentication, Reason: ReasonInvalidToken}
	ErrTokenExpired   = &Error{Kind: KindAuthentication, Reason: ReasonExpiredToken}
	ErrMissingToken   = &Error{Kind: KindAuthentication, Reason: ReasonMissingToken}
	ErrRateLimited    = &Error{Kind: KindRateLimit}
	ErrCircuitOpen    = &Error{Kind: KindRateLimit, Reason: ReasonCircuitOpen}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrPermission     = &Error{Kind: KindPermission}
	ErrServer         = &Error{Kind: KindServer}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrAPI            = &Error{Kind: KindAPI}
)

// Error is a classified failure
type Error struct {
	Kind       Kind
	Reason     Reason
	Message    string
	StatusCode int

	// RetryAfter is the upstream hint on throttling, zero when absent
	RetryAfter time.Duration

	// Field names the offending argument for validation errors
	Field string

	Resource   string
	ResourceID int64

	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind) + " error"
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by Kind and, when the target sets one, by Reason
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

// Retryable reports whether the generic retry loop may try again
func (e *Error) Retryable() bool {
	return e.Kind == KindServer || e.Kind == KindNetwork
}

// Suggestion returns an actionable recovery hint, or "" when there is none
func (e *Error) Suggestion() string {
	switch e.Kind {
	case KindAuthentication:
		switch e.Reason {
		case ReasonInvalidToken:
			return "The provided API token is invalid or malformed. Please verify RAINDROP_API_TOKEN. Generate a new token at " + tokenSettingsURL
		case ReasonExpiredToken:
			return "Your API token has expired. Please generate a new token at " + tokenSettingsURL + " and update RAINDROP_API_TOKEN"
		case ReasonMissingToken:
			return "No API token is configured. Please set RAINDROP_API_TOKEN. Generate a token at " + tokenSettingsURL
		}
		return "Please check RAINDROP_API_TOKEN. You can generate a new token at " + tokenSettingsURL
	case KindRateLimit:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("You have exceeded the API rate limit. Please retry after %d seconds.", int(e.RetryAfter.Seconds()))
		}
		return "You have exceeded the API rate limit."
	}
	return ""
}

// As returns the *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindAPI for unclassified errors
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindAPI
}

// Authentication creates an authentication error
func Authentication(reason Reason, message string) *Error {
	if message == "" {
		switch reason {
		case ReasonInvalidToken:
			message = "Invalid API token provided"
		case ReasonExpiredToken:
			message = "API token has expired"
		case ReasonMissingToken:
			message = "API token is required but not configured"
		default:
			message = "Authentication failed"
		}
	}
	return &Error{Kind: KindAuthentication, Reason: reason, Message: message, StatusCode: 401}
}

// RateLimit creates a rate limit error
func RateLimit(reason Reason, message string, retryAfter time.Duration) *Error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return &Error{Kind: KindRateLimit, Reason: reason, Message: message, StatusCode: 429, RetryAfter: retryAfter}
}

// Validation creates a validation error for field
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Reason: ReasonInvalidInput, Message: message, Field: field, StatusCode: 400}
}

// MissingField creates a validation error for an absent required argument
func MissingField(field string) *Error {
	return &Error{
		Kind:       KindValidation,
		Reason:     ReasonMissingField,
		Message:    field + " is required",
		Field:      field,
		StatusCode: 400,
	}
}

// NotFound creates a not-found error. A zero id is omitted from the message.
func NotFound(resource string, id int64) *Error {
	msg := resource + " not found"
	if id != 0 {
		msg = fmt.Sprintf("%s (ID: %d)", msg, id)
	}
	return &Error{Kind: KindNotFound, Message: msg, Resource: resource, ResourceID: id, StatusCode: 404}
}

// Permission creates a permission error
func Permission(message string) *Error {
	if message == "" {
		message = "Permission denied"
	}
	return &Error{Kind: KindPermission, Message: message, StatusCode: 403}
}

// Server creates an upstream server error
func Server(message string, status int) *Error {
	if message == "" {
		message = "Server error occurred"
	}
	return &Error{Kind: KindServer, Message: message, StatusCode: status}
}

// Network creates a transport error
func Network(reason Reason, message string, cause error) *Error {
	if message == "" {
		message = "Network error occurred"
	}
	return &Error{Kind: KindNetwork, Reason: reason, Message: message, Cause: cause}
}

// API creates a generic upstream error
func API(message string, status int, cause error) *Error {
	return &Error{Kind: KindAPI, Message: message, StatusCode: status, Cause: cause}
}
