// Package limiter provides admission control for calls to the Raindrop API.
//
// This file implements an in-memory token bucket for single-instance deployments.
package limiter

import (
	"context"
	"math"
	"time"

	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
)

// TokenBucket is a fixed-capacity bucket refilled continuously.
//
// Refill is lazy: every access computes the tokens earned since the last
// access. TokenBucket holds no lock of its own; the RateLimiter serializes
// access.
type TokenBucket struct {
	// Configuration
	capacity   int     // Maximum number of tokens the bucket can hold
	refillRate float64 // Tokens added per second

	// State
	tokens     float64 // Current number of tokens (float64 for partial tokens)
	lastRefill time.Time

	clock clock.Clock
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(capacity int, refillRate float64, clk clock.Clock) (*TokenBucket, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if refillRate <= 0 || math.IsNaN(refillRate) || math.IsInf(refillRate, 0) {
		return nil, ErrInvalidRefillRate
	}
	if clk == nil {
		clk = clock.NewSystem()
	}

	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: clk.Now(),
		clock:      clk,
	}, nil
}

// NewTokenBucketPerMinute creates a bucket whose capacity is one minute of
// requests and whose refill rate is rpm/60 tokens per second
func NewTokenBucketPerMinute(rpm int, clk clock.Clock) (*TokenBucket, error) {
	return NewTokenBucket(rpm, float64(rpm)/60.0, clk)
}

// refill adds tokens based on elapsed time
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	// A clock that moved backwards earns nothing
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
}

// Consume takes n tokens if available. On failure the token count is left
// untouched apart from the refill.
func (tb *TokenBucket) Consume(n int) bool {
	tb.refill()

	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// TokensAvailable returns the floored token count after a refill
func (tb *TokenBucket) TokensAvailable() int {
	tb.refill()
	return int(math.Floor(tb.tokens))
}

// TimeUntilAvailable returns how long until n tokens are available
func (tb *TokenBucket) TimeUntilAvailable(n int) time.Duration {
	tb.refill()

	if tb.tokens >= float64(n) {
		return 0
	}
	return secondsToDuration((float64(n) - tb.tokens) / tb.refillRate)
}

// Capacity returns the maximum number of tokens
func (tb *TokenBucket) Capacity() int {
	return tb.capacity
}

// RefillRate returns tokens added per second
func (tb *TokenBucket) RefillRate() float64 {
	return tb.refillRate
}

// TryConsume implements Bucket
func (tb *TokenBucket) TryConsume(_ context.Context, n int) (bool, error) {
	if n <= 0 {
		return false, ErrInvalidTokenCost
	}
	return tb.Consume(n), nil
}

// Available implements Bucket
func (tb *TokenBucket) Available(_ context.Context) (int, error) {
	return tb.TokensAvailable(), nil
}

// RetryAfter implements Bucket
func (tb *TokenBucket) RetryAfter(_ context.Context, n int) (time.Duration, error) {
	if n <= 0 {
		return 0, ErrInvalidTokenCost
	}
	return tb.TimeUntilAvailable(n), nil
}
