package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
)

func sampleStatus() limiter.Status {
	return limiter.Status{
		Running:           true,
		TokensAvailable:   30,
		Capacity:          120,
		RequestsPerMinute: 120,
		QueueSizes:        queue.Sizes{High: 2, Normal: 5, Low: 1},
		CircuitBreaker:    limiter.CircuitStatus{Enabled: true, State: limiter.StateHalfOpen, FailureCount: 0},
		Statistics: limiter.Statistics{
			RequestsProcessed:   12,
			RequestsQueued:      4,
			RequestsRejected:    1,
			CircuitBreakerTrips: 1,
			AverageWaitSeconds:  0.25,
		},
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	w := NewWidgets()
	w.Update(sampleStatus(), nil)

	assert.Equal(t, 25, w.Tokens.Percent)
	assert.Equal(t, "30 / 120 (120 rpm)", w.Tokens.Label)
	assert.Equal(t, ui.ColorYellow, w.Tokens.BarColor)
	assert.Equal(t, []float64{2, 5, 1}, w.Lanes.Data)
	assert.Contains(t, w.Breaker.Text, "state: half_open")
	assert.Equal(t, ui.ColorYellow, w.Breaker.BorderStyle.Fg)
	assert.Contains(t, w.Counters.Text, "processed: 12")
	assert.Contains(t, w.Counters.Text, "average wait: 0.250s")
	assert.Contains(t, w.Counters.Text, "limiter: running")
}

func TestUpdateEdgeCases(t *testing.T) {
	t.Parallel()

	w := NewWidgets()
	w.Update(limiter.Status{CircuitBreaker: limiter.CircuitStatus{Enabled: false}}, nil)
	assert.Equal(t, 0, w.Tokens.Percent)
	assert.Equal(t, ui.ColorRed, w.Tokens.BarColor)
	assert.Equal(t, "disabled", w.Breaker.Text)
	assert.Contains(t, w.Counters.Text, "limiter: stopped")

	open := sampleStatus()
	open.CircuitBreaker.State = limiter.StateOpen
	open.TokensAvailable = 120
	w.Update(open, nil)
	assert.Equal(t, 100, w.Tokens.Percent)
	assert.Equal(t, ui.ColorRed, w.Breaker.BorderStyle.Fg)

	w.Update(limiter.Status{}, errors.New("connection refused"))
	assert.Equal(t, "status unavailable: connection refused", w.Footer.Text)
	assert.Equal(t, 100, w.Tokens.Percent)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(sampleStatus()))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/status", time.Second, nil)
	status, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStatus(), status)

	_, err = NewFetcher(srv.URL+"/missing", time.Second, nil).Fetch(context.Background())
	assert.ErrorContains(t, err, "unexpected status code 404")
}
