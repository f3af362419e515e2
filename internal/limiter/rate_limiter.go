// Package limiter provides admission control for calls to the Raindrop API.
//
// This file implements the RateLimiter: a Bucket for admission, an optional
// CircuitBreaker for failure isolation, and a three-lane priority queue for
// requests that could not get a token immediately. A single background
// goroutine drains the queue as tokens refill.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// minPollInterval bounds the drain loop when the bucket reports a
// sub-nanosecond wait due to float rounding
const minPollInterval = 10 * time.Millisecond

// Config holds RateLimiter settings
type Config struct {
	// RequestsPerMinute sizes the default in-memory bucket
	RequestsPerMinute int

	// CircuitBreakerEnabled attaches a CircuitBreaker
	CircuitBreakerEnabled bool
	CircuitBreaker        CircuitBreakerConfig

	// MaxQueueSize caps waiting requests; 0 means unbounded
	MaxQueueSize int

	// MaxPollInterval caps each sleep of the drain loop while it waits for a token
	MaxPollInterval time.Duration

	// ErrorPause is how long the drain loop pauses after an internal error
	ErrorPause time.Duration
}

// DefaultConfig returns 120 requests per minute with the breaker enabled
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute:     120,
		CircuitBreakerEnabled: true,
		CircuitBreaker:        DefaultCircuitBreakerConfig(),
		MaxQueueSize:          1000,
		MaxPollInterval:       time.Second,
		ErrorPause:            time.Second,
	}
}

// Statistics are counters accumulated over the limiter's lifetime
type Statistics struct {
	RequestsProcessed   int64   `json:"requests_processed"`
	RequestsRejected    int64   `json:"requests_rejected"`
	RequestsQueued      int64   `json:"requests_queued"`
	CircuitBreakerTrips int64   `json:"circuit_breaker_trips"`
	AverageWaitSeconds  float64 `json:"average_wait_time"`
}

// CircuitStatus is the breaker part of Status
type CircuitStatus struct {
	Enabled      bool         `json:"enabled"`
	State        CircuitState `json:"state"`
	FailureCount int          `json:"failure_count"`
}

// Status is a point-in-time snapshot of the limiter
type Status struct {
	Running           bool          `json:"running"`
	TokensAvailable   int           `json:"tokens_available"`
	Capacity          int           `json:"capacity"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	QueueSizes        queue.Sizes   `json:"queue_sizes"`
	CircuitBreaker    CircuitStatus `json:"circuit_breaker"`
	Statistics        Statistics    `json:"statistics"`
}

// pendingRequest is a queued acquire waiting for a grant
type pendingRequest struct {
	id         string
	enqueuedAt time.Time
	priority   queue.Priority

	// grant carries nil for a granted call or the rejection error. It is
	// buffered so the drain loop never blocks.
	grant chan error

	// abandoned is set under the limiter mutex once the caller stopped
	// waiting; the drain loop then skips the entry without spending a token
	abandoned bool
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithBucket replaces the default in-memory bucket
func WithBucket(b Bucket) Option {
	return func(rl *RateLimiter) {
		rl.bucket = b
	}
}

// WithClock sets the time source
func WithClock(clk clock.Clock) Option {
	return func(rl *RateLimiter) {
		rl.clock = clk
	}
}

// WithLogger sets the logger
func WithLogger(logger *utils.Logger) Option {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// RateLimiter coordinates Bucket, CircuitBreaker and queue
type RateLimiter struct {
	config  Config
	bucket  Bucket
	breaker *CircuitBreaker
	queue   *queue.PriorityQueue[*pendingRequest]
	clock   clock.Clock
	logger  *utils.Logger

	// mu guards bucket, breaker, stats and the lifecycle fields
	mu      sync.Mutex
	stats   Statistics
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped RateLimiter
func New(config Config, options ...Option) (*RateLimiter, error) {
	defaults := DefaultConfig()
	if config.MaxPollInterval <= 0 {
		config.MaxPollInterval = defaults.MaxPollInterval
	}
	if config.ErrorPause <= 0 {
		config.ErrorPause = defaults.ErrorPause
	}

	rl := &RateLimiter{config: config}
	for _, option := range options {
		option(rl)
	}

	if rl.clock == nil {
		rl.clock = clock.NewSystem()
	}
	if rl.logger == nil {
		rl.logger = utils.NewNopLogger()
	}

	if rl.bucket == nil {
		if config.RequestsPerMinute < 1 {
			return nil, fmt.Errorf("requests per minute must be positive, got %d", config.RequestsPerMinute)
		}
		tb, err := NewTokenBucketPerMinute(config.RequestsPerMinute, rl.clock)
		if err != nil {
			return nil, fmt.Errorf("create token bucket: %w", err)
		}
		rl.bucket = tb
	}

	if config.CircuitBreakerEnabled {
		rl.breaker = NewCircuitBreaker(config.CircuitBreaker, rl.clock, rl.logger)
	}

	rl.queue = queue.NewPriorityQueue[*pendingRequest](queue.QueueConfig{MaxSize: config.MaxQueueSize})

	rl.logger.Info("Rate limiter initialized", map[string]interface{}{
		"requests_per_minute": config.RequestsPerMinute,
		"capacity":            rl.bucket.Capacity(),
		"circuit_breaker":     config.CircuitBreakerEnabled,
		"max_queue_size":      config.MaxQueueSize,
	})

	return rl, nil
}

// Start launches the drain goroutine. Calling Start on a running limiter is a no-op.
func (rl *RateLimiter) Start(ctx context.Context) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.running {
		return
	}

	drainCtx, cancel := context.WithCancel(ctx)
	rl.running = true
	rl.cancel = cancel
	rl.done = make(chan struct{})

	go rl.drainLoop(drainCtx, rl.done)

	rl.logger.Info("Rate limiter started", nil)
}

// Stop cancels the drain goroutine and waits for it to exit. Requests still
// queued are abandoned; their callers time out. Stop on a stopped limiter is
// a no-op.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	if !rl.running {
		rl.mu.Unlock()
		return
	}
	rl.running = false
	cancel, done := rl.cancel, rl.done
	rl.mu.Unlock()

	cancel()
	<-done

	rl.logger.Info("Rate limiter stopped", nil)
}

// Running reports whether the drain goroutine is active
func (rl *RateLimiter) Running() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.running
}

// Acquire asks for permission to make one upstream call.
//
// It returns true immediately when a token is available. Otherwise the call
// waits in the priority lane for up to timeout and returns false if no grant
// arrives in time. An open circuit fails fast with a circuit_open rate limit
// error, also when it opens while the request is queued, and a full queue
// fails with queue_full. If ctx is done first, ctx.Err() is
// returned.
func (rl *RateLimiter) Acquire(ctx context.Context, priority queue.Priority, timeout time.Duration) (bool, error) {
	start := rl.clock.Now()

	rl.mu.Lock()
	if rl.breaker != nil && !rl.breaker.CanExecute() {
		rl.stats.RequestsRejected++
		rl.mu.Unlock()
		return false, errCircuitOpen()
	}

	ok, err := rl.bucket.TryConsume(ctx, 1)
	if err != nil {
		rl.mu.Unlock()
		return false, fmt.Errorf("consume token: %w", err)
	}
	if ok {
		rl.stats.RequestsProcessed++
		rl.mu.Unlock()
		return true, nil
	}

	req := &pendingRequest{
		id:         utils.NewRequestID(),
		enqueuedAt: start,
		priority:   priority,
		grant:      make(chan error, 1),
	}
	if err := rl.queue.Put(req, priority); err != nil {
		rl.stats.RequestsRejected++
		rl.mu.Unlock()
		if errors.Is(err, queue.ErrQueueFull) {
			return false, apierr.RateLimit(apierr.ReasonQueueFull, "Rate limit exceeded and request queue is full", 0)
		}
		return false, fmt.Errorf("enqueue request: %w", err)
	}
	rl.stats.RequestsQueued++
	rl.mu.Unlock()

	rl.logger.Debug("Request queued", map[string]interface{}{
		"request_id": req.id,
		"priority":   string(priority),
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-req.grant:
		return rl.resolve(req, start, err)

	case <-timer.C:
		rl.mu.Lock()
		req.abandoned = true
		select {
		case err := <-req.grant:
			// resolved while the timer fired
			rl.mu.Unlock()
			return rl.resolve(req, start, err)
		default:
		}
		rl.stats.RequestsRejected++
		rl.mu.Unlock()
		rl.logger.Warn("Request timed out in queue", map[string]interface{}{
			"request_id": req.id,
			"priority":   string(priority),
			"timeout":    timeout.String(),
		})
		return false, nil

	case <-ctx.Done():
		rl.mu.Lock()
		req.abandoned = true
		rl.mu.Unlock()
		return false, ctx.Err()
	}
}

// resolve turns the drain loop's answer for req into Acquire's result
func (rl *RateLimiter) resolve(req *pendingRequest, start time.Time, err error) (bool, error) {
	if err != nil {
		rl.logger.Debug("Queued request rejected", map[string]interface{}{
			"request_id": req.id,
			"error":      err.Error(),
		})
		return false, err
	}
	wait := rl.clock.Now().Sub(start)
	rl.mu.Lock()
	rl.recordWaitLocked(wait)
	rl.mu.Unlock()
	return true, nil
}

// recordWaitLocked folds wait into the running average over processed requests.
// Must be called with the mutex held.
func (rl *RateLimiter) recordWaitLocked(wait time.Duration) {
	n := rl.stats.RequestsProcessed
	if n <= 1 {
		rl.stats.AverageWaitSeconds = wait.Seconds()
		return
	}
	rl.stats.AverageWaitSeconds = (rl.stats.AverageWaitSeconds*float64(n-1) + wait.Seconds()) / float64(n)
}

// RecordSuccess feeds a successful upstream call into the circuit breaker
func (rl *RateLimiter) RecordSuccess() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.breaker != nil {
		rl.breaker.RecordSuccess()
	}
}

// RecordFailure feeds a failed upstream call into the circuit breaker
func (rl *RateLimiter) RecordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.breaker != nil && rl.breaker.RecordFailure() {
		rl.stats.CircuitBreakerTrips++
	}
}

// Status returns a snapshot of the limiter. A bucket backend error is logged
// and reported as -1 available tokens.
func (rl *RateLimiter) Status(ctx context.Context) Status {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokens, err := rl.bucket.Available(ctx)
	if err != nil {
		rl.logger.Error(err, "Failed to read token count", nil)
		tokens = -1
	}

	status := Status{
		Running:           rl.running,
		TokensAvailable:   tokens,
		Capacity:          rl.bucket.Capacity(),
		RequestsPerMinute: rl.config.RequestsPerMinute,
		QueueSizes:        rl.queue.Sizes(),
		Statistics:        rl.stats,
		CircuitBreaker:    CircuitStatus{State: StateDisabled},
	}
	if rl.breaker != nil {
		status.CircuitBreaker = CircuitStatus{
			Enabled:      true,
			State:        rl.breaker.State(),
			FailureCount: rl.breaker.FailureCount(),
		}
	}
	return status
}

// drainLoop grants queued requests one token at a time until ctx is cancelled
func (rl *RateLimiter) drainLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		req, _, err := rl.queue.Get(ctx)
		if err != nil {
			// Get only fails once ctx is done
			return
		}

		if !rl.drainOne(ctx, req) {
			return
		}
	}
}

// drainOne waits for a token for req and resolves it. It returns false when
// the limiter is stopping, in which case req is abandoned.
func (rl *RateLimiter) drainOne(ctx context.Context, req *pendingRequest) bool {
	for {
		ok, wait, err := rl.tryGrant(ctx, req)
		if ok {
			return true
		}

		if err != nil {
			rl.logger.Error(err, "Error in queue processor", map[string]interface{}{
				"request_id": req.id,
			})
			wait = rl.config.ErrorPause
		}

		if !rl.sleep(ctx, wait) {
			return false
		}
	}
}

// tryGrant makes one attempt to take a token for req. On success req is
// resolved; an abandoned req counts as resolved without taking a token.
// Otherwise it returns how long to sleep before trying again.
func (rl *RateLimiter) tryGrant(ctx context.Context, req *pendingRequest) (granted bool, wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in queue processor: %v", r)
			granted = false
		}
	}()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if req.abandoned {
		return true, 0, nil
	}

	ok, err := rl.bucket.TryConsume(ctx, 1)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		wait, err = rl.bucket.RetryAfter(ctx, 1)
		if err != nil {
			return false, 0, err
		}
		switch {
		case wait <= 0:
			wait = minPollInterval
		case wait > rl.config.MaxPollInterval:
			wait = rl.config.MaxPollInterval
		}
		return false, wait, nil
	}

	if rl.breaker != nil && !rl.breaker.CanExecute() {
		rl.stats.RequestsRejected++
		req.grant <- errCircuitOpen()
	} else {
		rl.stats.RequestsProcessed++
		req.grant <- nil
	}
	return true, 0, nil
}

func errCircuitOpen() error {
	return apierr.RateLimit(apierr.ReasonCircuitOpen, "Service temporarily unavailable (circuit breaker open)", 0)
}

// sleep waits for d or until ctx is done; it reports false in the latter case
func (rl *RateLimiter) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
