package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
)

// fakeBucket hands out tokens only when the test adds them
type fakeBucket struct {
	mu       sync.Mutex
	tokens   int
	failNext int
}

func (f *fakeBucket) add(n int) {
	f.mu.Lock()
	f.tokens += n
	f.mu.Unlock()
}

func (f *fakeBucket) TryConsume(_ context.Context, n int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return false, errors.New("backend hiccup")
	}
	if f.tokens >= n {
		f.tokens -= n
		return true, nil
	}
	return false, nil
}

func (f *fakeBucket) Available(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens, nil
}

func (f *fakeBucket) RetryAfter(context.Context, int) (time.Duration, error) {
	return 5 * time.Millisecond, nil
}

func (f *fakeBucket) Capacity() int { return 10 }

func newFakeLimiter(t *testing.T, cfg Config) (*RateLimiter, *fakeBucket) {
	t.Helper()

	fb := &fakeBucket{}
	cfg.ErrorPause = 10 * time.Millisecond
	rl, err := New(cfg, WithBucket(fb))
	require.NoError(t, err)
	t.Cleanup(rl.Stop)
	return rl, fb
}

// waitQueued blocks until n requests have entered the queue. The queued
// counter is used instead of the queue length because a running drain loop
// pulls entries out immediately.
func waitQueued(t *testing.T, rl *RateLimiter, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		return rl.stats.RequestsQueued >= n
	}, time.Second, time.Millisecond)
}

func TestAcquireImmediateThenQueued(t *testing.T) {
	t.Parallel()

	rl, err := New(Config{RequestsPerMinute: 60})
	require.NoError(t, err)
	ctx := context.Background()
	rl.Start(ctx)
	defer rl.Stop()

	start := time.Now()
	for i := 0; i < 60; i++ {
		ok, err := rl.Acquire(ctx, queue.PriorityNormal, 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	start = time.Now()
	ok, err := rl.Acquire(ctx, queue.PriorityNormal, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	waited := time.Since(start)
	assert.Greater(t, waited, 700*time.Millisecond)
	assert.Less(t, waited, 2500*time.Millisecond)

	stats := rl.Status(ctx).Statistics
	assert.EqualValues(t, 61, stats.RequestsProcessed)
	assert.EqualValues(t, 1, stats.RequestsQueued)
	assert.Zero(t, stats.RequestsRejected)
	assert.Greater(t, stats.AverageWaitSeconds, 0.0)
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	rl, _ := newFakeLimiter(t, Config{})
	rl.Start(context.Background())

	ok, err := rl.Acquire(context.Background(), queue.PriorityNormal, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := rl.Status(context.Background()).Statistics
	assert.EqualValues(t, 1, stats.RequestsRejected)
	assert.EqualValues(t, 1, stats.RequestsQueued)
	assert.Zero(t, stats.RequestsProcessed)
}

func TestAbandonedGrantIsDiscarded(t *testing.T) {
	t.Parallel()

	rl, fb := newFakeLimiter(t, Config{})
	ctx := context.Background()
	rl.Start(ctx)

	ok, err := rl.Acquire(ctx, queue.PriorityNormal, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	result := make(chan bool, 1)
	go func() {
		ok, _ := rl.Acquire(ctx, queue.PriorityNormal, 2*time.Second)
		result <- ok
	}()
	waitQueued(t, rl, 2)

	// The abandoned entry is skipped, so the single token reaches the live one.
	fb.add(1)
	assert.True(t, <-result)

	status := rl.Status(ctx)
	assert.Zero(t, status.TokensAvailable)
	assert.EqualValues(t, 1, status.Statistics.RequestsProcessed)
	assert.EqualValues(t, 1, status.Statistics.RequestsRejected)
	assert.EqualValues(t, 2, status.Statistics.RequestsQueued)
}

func TestAcquireCircuitOpen(t *testing.T) {
	t.Parallel()

	rl, fb := newFakeLimiter(t, Config{
		CircuitBreakerEnabled: true,
		CircuitBreaker:        CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour, SuccessThreshold: 1},
	})
	fb.add(5)

	rl.RecordFailure()
	rl.RecordFailure()

	ok, err := rl.Acquire(context.Background(), queue.PriorityHigh, time.Second)
	assert.False(t, ok)
	require.ErrorIs(t, err, apierr.ErrCircuitOpen)

	status := rl.Status(context.Background())
	assert.Zero(t, status.Statistics.RequestsProcessed)
	assert.EqualValues(t, 1, status.Statistics.RequestsRejected)
	assert.EqualValues(t, 1, status.Statistics.CircuitBreakerTrips)
	assert.Equal(t, StateOpen, status.CircuitBreaker.State)
	assert.Equal(t, 5, status.TokensAvailable, "no token is spent on a rejected call")
}

func TestDrainRejectsWhenCircuitOpensWhileQueued(t *testing.T) {
	t.Parallel()

	rl, fb := newFakeLimiter(t, Config{
		CircuitBreakerEnabled: true,
		CircuitBreaker:        CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1},
	})
	rl.Start(context.Background())

	type outcome struct {
		ok  bool
		err error
	}
	result := make(chan outcome, 1)
	go func() {
		ok, err := rl.Acquire(context.Background(), queue.PriorityNormal, 5*time.Second)
		result <- outcome{ok, err}
	}()
	waitQueued(t, rl, 1)

	rl.RecordFailure()
	fb.add(1)

	got := <-result
	assert.False(t, got.ok)
	require.ErrorIs(t, got.err, apierr.ErrCircuitOpen)
	status := rl.Status(context.Background())
	assert.EqualValues(t, 1, status.Statistics.RequestsRejected)
	assert.Zero(t, status.Statistics.RequestsProcessed)
}

func TestDrainOrderFollowsPriority(t *testing.T) {
	t.Parallel()

	rl, fb := newFakeLimiter(t, Config{})

	order := make(chan queue.Priority, 3)
	acquire := func(p queue.Priority) {
		ok, err := rl.Acquire(context.Background(), p, 5*time.Second)
		if err == nil && ok {
			order <- p
		}
	}

	go acquire(queue.PriorityLow)
	waitQueued(t, rl, 1)
	go acquire(queue.PriorityNormal)
	waitQueued(t, rl, 2)
	go acquire(queue.PriorityHigh)
	waitQueued(t, rl, 3)

	rl.Start(context.Background())

	var got []queue.Priority
	for i := 0; i < 3; i++ {
		fb.add(1)
		got = append(got, <-order)
	}
	assert.Equal(t, []queue.Priority{queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow}, got)
}

func TestDrainSurvivesBucketErrors(t *testing.T) {
	t.Parallel()

	rl, fb := newFakeLimiter(t, Config{})
	fb.mu.Lock()
	fb.failNext = 1 // consumed by Acquire's immediate attempt
	fb.mu.Unlock()

	_, err := rl.Acquire(context.Background(), queue.PriorityNormal, time.Second)
	require.Error(t, err)

	rl.Start(context.Background())
	result := make(chan bool, 1)
	go func() {
		ok, _ := rl.Acquire(context.Background(), queue.PriorityNormal, 5*time.Second)
		result <- ok
	}()
	waitQueued(t, rl, 1)

	fb.mu.Lock()
	fb.failNext = 3
	fb.tokens = 1
	fb.mu.Unlock()

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("drain loop did not recover from bucket errors")
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	rl, _ := newFakeLimiter(t, Config{MaxQueueSize: 1})

	go func() {
		_, _ = rl.Acquire(context.Background(), queue.PriorityNormal, time.Second)
	}()
	waitQueued(t, rl, 1)

	ok, err := rl.Acquire(context.Background(), queue.PriorityNormal, time.Second)
	assert.False(t, ok)
	require.ErrorIs(t, err, apierr.ErrRateLimited)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.ReasonQueueFull, apiErr.Reason)
}

func TestAcquireContextCancelled(t *testing.T) {
	t.Parallel()

	rl, _ := newFakeLimiter(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := rl.Acquire(ctx, queue.PriorityLow, time.Minute)
	assert.False(t, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	rl, _ := newFakeLimiter(t, Config{})
	assert.False(t, rl.Running())

	rl.Start(context.Background())
	rl.Start(context.Background())
	assert.True(t, rl.Running())

	rl.Stop()
	rl.Stop()
	assert.False(t, rl.Running())

	rl.Start(context.Background())
	assert.True(t, rl.Running())
}

func TestStopAbandonsQueuedRequests(t *testing.T) {
	t.Parallel()

	rl, _ := newFakeLimiter(t, Config{})
	rl.Start(context.Background())

	result := make(chan bool, 1)
	go func() {
		ok, _ := rl.Acquire(context.Background(), queue.PriorityNormal, 200*time.Millisecond)
		result <- ok
	}()
	waitQueued(t, rl, 1)

	rl.Stop()
	assert.False(t, <-result)
}

func TestNewValidatesRate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{RequestsPerMinute: 0})
	require.Error(t, err)
}

func TestRecordSuccessWithoutBreaker(t *testing.T) {
	t.Parallel()

	rl, _ := newFakeLimiter(t, Config{})
	rl.RecordSuccess()
	rl.RecordFailure()

	status := rl.Status(context.Background())
	assert.False(t, status.CircuitBreaker.Enabled)
	assert.Equal(t, StateDisabled, status.CircuitBreaker.State)
	assert.Zero(t, status.Statistics.CircuitBreakerTrips)
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()

	rl, err := New(Config{RequestsPerMinute: 120, CircuitBreakerEnabled: true})
	require.NoError(t, err)

	out, err := json.Marshal(rl.Status(context.Background()))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, false, decoded["running"])
	assert.EqualValues(t, 120, decoded["tokens_available"])
	assert.EqualValues(t, 120, decoded["requests_per_minute"])
	assert.Equal(t, "closed", decoded["circuit_breaker"].(map[string]interface{})["state"])
	assert.Contains(t, decoded["queue_sizes"], "high")
	assert.Contains(t, decoded["statistics"], "average_wait_time")
}

func TestStatusJSONWithoutBreaker(t *testing.T) {
	t.Parallel()

	rl, err := New(Config{RequestsPerMinute: 60})
	require.NoError(t, err)

	out, err := json.Marshal(rl.Status(context.Background()))
	require.NoError(t, err)

	var decoded struct {
		CircuitBreaker CircuitStatus `json:"circuit_breaker"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.False(t, decoded.CircuitBreaker.Enabled)
	assert.Equal(t, StateDisabled, decoded.CircuitBreaker.State)
	assert.Contains(t, string(out), `"state":"disabled"`)
}
