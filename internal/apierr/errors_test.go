package apierr_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
)

func TestIsMatchesKindAndReason(t *testing.T) {
	t.Parallel()

	expired := apierr.Authentication(apierr.ReasonExpiredToken, "token expired")
	wrapped := fmt.Errorf("get user: %w", expired)

	assert.ErrorIs(t, wrapped, apierr.ErrAuthentication)
	assert.ErrorIs(t, wrapped, apierr.ErrTokenExpired)
	assert.NotErrorIs(t, wrapped, apierr.ErrInvalidToken)
	assert.NotErrorIs(t, wrapped, apierr.ErrRateLimited)
}

func TestCircuitOpenSentinel(t *testing.T) {
	t.Parallel()

	err := apierr.RateLimit(apierr.ReasonCircuitOpen, "Service temporarily unavailable (circuit breaker open)", 0)
	assert.ErrorIs(t, err, apierr.ErrCircuitOpen)
	assert.ErrorIs(t, err, apierr.ErrRateLimited)
	assert.Equal(t, apierr.KindRateLimit, apierr.KindOf(err))
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	assert.Equal(t, apierr.KindAPI, apierr.KindOf(errors.New("plain")))
	_, ok := apierr.As(errors.New("plain"))
	assert.False(t, ok)
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *apierr.Error
		want bool
	}{
		{apierr.Server("", 502), true},
		{apierr.Network(apierr.ReasonTimeout, "", nil), true},
		{apierr.Validation("url", "bad"), false},
		{apierr.Authentication(apierr.ReasonInvalidToken, ""), false},
		{apierr.RateLimit(apierr.ReasonUpstreamThrottled, "", time.Second), false},
		{apierr.Permission(""), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Retryable(), tt.err.Error())
	}
}

func TestDefaultMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "API token has expired", apierr.Authentication(apierr.ReasonExpiredToken, "").Error())
	assert.Equal(t, "API token is required but not configured", apierr.Authentication(apierr.ReasonMissingToken, "").Error())
	assert.Equal(t, "Bookmark not found (ID: 42)", apierr.NotFound("Bookmark", 42).Error())
	assert.Equal(t, "Resource not found", apierr.NotFound("Resource", 0).Error())
	assert.Equal(t, "bookmark_id is required", apierr.MissingField("bookmark_id").Error())
	assert.Equal(t, "Permission denied", apierr.Permission("").Error())
}

func TestUnwrapKeepsCause(t *testing.T) {
	t.Parallel()

	err := apierr.Network(apierr.ReasonRetriesExhausted, "Request failed after 3 retries", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, apierr.ErrNetwork)
}

func TestSuggestion(t *testing.T) {
	t.Parallel()

	rl := apierr.RateLimit(apierr.ReasonUpstreamThrottled, "", 30*time.Second)
	assert.Contains(t, rl.Suggestion(), "retry after 30 seconds")

	missing := apierr.Authentication(apierr.ReasonMissingToken, "")
	assert.Contains(t, missing.Suggestion(), "RAINDROP_API_TOKEN")

	require.Empty(t, apierr.NotFound("Bookmark", 1).Suggestion())
}
