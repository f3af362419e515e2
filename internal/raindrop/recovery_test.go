package raindrop_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
)

// upstream serves /user with a switchable status and a single bookmark
type upstream struct {
	userStatus    atomic.Int32
	userBody      atomic.Value
	bookmarkCalls atomic.Int32
}

func newUpstream(t *testing.T) (*upstream, *httptest.Server) {
	t.Helper()

	u := &upstream{}
	u.userStatus.Store(http.StatusOK)
	u.userBody.Store(`{"result":true,"user":{"_id":1,"fullName":"Test"}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			writeJSON(w, int(u.userStatus.Load()), u.userBody.Load().(string))
		case "/raindrop/1":
			u.bookmarkCalls.Add(1)
			writeJSON(w, http.StatusOK, `{"result":true,"item":{"_id":1,"title":"Go","link":"https://go.dev","type":"link"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return u, srv
}

func newLiveClient(t *testing.T, baseURL string, clk clock.Clock) (*raindrop.Client, *raindrop.AuthenticationManager) {
	t.Helper()

	auth := raindrop.NewAuthenticationManager(raindrop.AuthConfig{Token: validToken, BaseURL: baseURL, Timeout: time.Second}, clk, nil)
	rl, err := limiter.New(limiter.Config{RequestsPerMinute: 600})
	require.NoError(t, err)

	cfg := raindrop.DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.RequestTimeout = time.Second
	cfg.Retry.MaxRetries = 0

	client, err := raindrop.NewClient(cfg, auth, rl, nil)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(client.Close)
	return client, auth
}

func TestTransientHealthFailureKeepsAuthentication(t *testing.T) {
	t.Parallel()

	up, srv := newUpstream(t)
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	client, auth := newLiveClient(t, srv.URL, clk)
	ctx := context.Background()

	require.NoError(t, clk.Advance(6*time.Minute))
	up.userStatus.Store(http.StatusServiceUnavailable)

	info := client.HealthCheck(ctx)
	assert.True(t, info.AuthStatus.Authenticated)
	assert.NotEmpty(t, info.AuthStatus.Error)
	assert.Equal(t, "error", info.APIStatus)
	assert.True(t, auth.IsAuthenticated())

	up.userStatus.Store(http.StatusOK)
	for i := 0; i < 6; i++ {
		b, err := client.GetBookmark(ctx, 1)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, int64(1), b.ID)
	}
	assert.EqualValues(t, 6, up.bookmarkCalls.Load())
}

func TestRevokedTokenRecovers(t *testing.T) {
	t.Parallel()

	up, srv := newUpstream(t)
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	client, auth := newLiveClient(t, srv.URL, clk)
	ctx := context.Background()

	require.NoError(t, clk.Advance(6*time.Minute))
	up.userStatus.Store(http.StatusUnauthorized)
	up.userBody.Store(`{"error":"token expired"}`)

	info := client.HealthCheck(ctx)
	assert.False(t, info.AuthStatus.Authenticated)
	assert.False(t, auth.IsAuthenticated())

	// still rejected, without reaching the bookmark endpoint
	_, err := client.GetBookmark(ctx, 1)
	require.ErrorIs(t, err, apierr.ErrTokenExpired)
	assert.Zero(t, up.bookmarkCalls.Load())

	up.userStatus.Store(http.StatusOK)
	up.userBody.Store(`{"result":true,"user":{"_id":1}}`)

	// revalidation is spaced out, so a call inside the window fails fast
	_, err = client.GetBookmark(ctx, 1)
	require.ErrorIs(t, err, apierr.ErrAuthentication)
	assert.Zero(t, up.bookmarkCalls.Load())

	require.NoError(t, clk.Advance(30*time.Second))
	_, err = client.GetBookmark(ctx, 1)
	require.NoError(t, err)
	assert.True(t, auth.IsAuthenticated())
	assert.EqualValues(t, 1, up.bookmarkCalls.Load())
}

// heldBucket only hands out tokens the test releases
type heldBucket struct {
	tokens atomic.Int32
}

func (b *heldBucket) TryConsume(_ context.Context, n int) (bool, error) {
	for {
		cur := b.tokens.Load()
		if int(cur) < n {
			return false, nil
		}
		if b.tokens.CompareAndSwap(cur, cur-int32(n)) {
			return true, nil
		}
	}
}

func (b *heldBucket) Available(context.Context) (int, error) { return int(b.tokens.Load()), nil }

func (b *heldBucket) RetryAfter(context.Context, int) (time.Duration, error) {
	return 5 * time.Millisecond, nil
}

func (b *heldBucket) Capacity() int { return 1 }

func TestCircuitOpeningWhileQueuedReportsCircuitOpen(t *testing.T) {
	t.Parallel()

	up, srv := newUpstream(t)
	bucket := &heldBucket{}
	rl, err := limiter.New(limiter.Config{
		RequestsPerMinute:     60,
		CircuitBreakerEnabled: true,
		CircuitBreaker:        limiter.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1},
	}, limiter.WithBucket(bucket))
	require.NoError(t, err)

	cfg := raindrop.DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.AcquireTimeout = 5 * time.Second
	client, err := raindrop.NewClient(cfg, &fakeAuth{}, rl, nil)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(client.Close)

	result := make(chan error, 1)
	go func() {
		_, err := client.GetBookmark(raindrop.WithPriority(context.Background(), queue.PriorityNormal), 1)
		result <- err
	}()
	require.Eventually(t, func() bool {
		return rl.Status(context.Background()).Statistics.RequestsQueued == 1
	}, time.Second, time.Millisecond)

	rl.RecordFailure()
	bucket.tokens.Store(1)

	err = <-result
	require.ErrorIs(t, err, apierr.ErrCircuitOpen)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.ReasonCircuitOpen, e.Reason)
	assert.Zero(t, up.bookmarkCalls.Load())
}
