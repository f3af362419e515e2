package tools

import (
	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
)

// Error codes of the error envelope
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeMissingField      = "MISSING_FIELD"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Envelope is the JSON document returned for every tool call
type Envelope struct {
	Success bool        `json:"success,omitempty"`
	Tool    string      `json:"tool,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed call
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Context    string `json:"context,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// IsError reports whether the envelope carries an error
func (e Envelope) IsError() bool {
	return e.Error != nil
}

// Success wraps data in a success envelope
func Success(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// Failure wraps err in an error envelope with the tool as context
func Failure(err error, tool string) Envelope {
	body := &ErrorBody{
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
	if tool != "" {
		body.Context = "Tool: " + tool
	}
	if e, ok := apierr.As(err); ok {
		body.Suggestion = e.Suggestion()
	}
	return Envelope{Error: body}
}

// ErrorCode maps an error's Kind and Reason to an envelope code
func ErrorCode(err error) string {
	e, ok := apierr.As(err)
	if !ok {
		return CodeInternalError
	}
	switch e.Kind {
	case apierr.KindValidation:
		if e.Reason == apierr.ReasonMissingField {
			return CodeMissingField
		}
		return CodeInvalidInput
	case apierr.KindPermission:
		return CodePermissionDenied
	case apierr.KindRateLimit:
		return CodeRateLimitExceeded
	case apierr.KindNotFound:
		return CodeNotFound
	case apierr.KindAuthentication:
		return CodeUnauthorized
	}
	return CodeInternalError
}
