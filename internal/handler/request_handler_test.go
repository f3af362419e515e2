package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdmimpulse/raindrop-mcp/internal/handler"
	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
)

type staticStatus struct {
	status limiter.Status
}

func (s staticStatus) Status(context.Context) limiter.Status { return s.status }

type staticUpstream struct {
	info raindrop.HealthInfo
}

func (s staticUpstream) HealthCheck(context.Context) raindrop.HealthInfo { return s.info }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := handler.NewStatusHandler(staticStatus{}, nil, nil).Routes()
	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["time"])
	assert.NoError(t, err)
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()

	status := limiter.Status{
		Running:           true,
		TokensAvailable:   17,
		Capacity:          120,
		RequestsPerMinute: 120,
		QueueSizes:        queue.Sizes{High: 1, Normal: 2, Low: 3},
		CircuitBreaker:    limiter.CircuitStatus{Enabled: true, State: limiter.StateOpen, FailureCount: 5},
		Statistics:        limiter.Statistics{RequestsProcessed: 40, CircuitBreakerTrips: 1},
	}
	h := handler.NewStatusHandler(staticStatus{status: status}, nil, nil).Routes()
	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.EqualValues(t, 17, body["tokens_available"])
	assert.Equal(t, map[string]interface{}{"high": 1.0, "normal": 2.0, "low": 3.0}, body["queue_sizes"])
	breaker := body["circuit_breaker"].(map[string]interface{})
	assert.Equal(t, "open", breaker["state"])
	stats := body["statistics"].(map[string]interface{})
	assert.EqualValues(t, 40, stats["requests_processed"])
}

func TestUpstream(t *testing.T) {
	t.Parallel()

	healthy := handler.NewStatusHandler(staticStatus{}, staticUpstream{info: raindrop.HealthInfo{
		ClientStatus: "healthy",
		APIStatus:    "connected",
		UserID:       7,
	}}, nil).Routes()
	rec := get(t, healthy, "/health/upstream")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "connected", body["api_status"])
	assert.EqualValues(t, 7, body["user_id"])

	failing := handler.NewStatusHandler(staticStatus{}, staticUpstream{info: raindrop.HealthInfo{
		ClientStatus: "healthy",
		APIStatus:    "error",
		APIError:     "Invalid API token provided",
	}}, nil).Routes()
	rec = get(t, failing, "/health/upstream")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid API token provided")
}

func TestUnroutedPaths(t *testing.T) {
	t.Parallel()

	h := handler.NewStatusHandler(staticStatus{}, nil, nil).Routes()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/health/upstream").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
