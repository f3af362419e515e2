// Package limiter provides admission control for calls to the Raindrop API.
//
// This file defines the Bucket interface and the errors shared by its two
// implementations:
// 1. In-memory token bucket (single process)
// 2. Redis-backed token bucket (several processes sharing one API token)
//
// The RateLimiter in rate_limiter.go combines a Bucket with a CircuitBreaker
// and a priority queue.
package limiter

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by buckets
var (
	// ErrInvalidCapacity is returned when a bucket is configured with capacity < 1
	ErrInvalidCapacity = errors.New("invalid bucket capacity: must be at least 1")

	// ErrInvalidRefillRate is returned when the refill rate is not positive
	ErrInvalidRefillRate = errors.New("invalid refill rate: must be positive")

	// ErrInvalidTokenCost is returned when the token cost is invalid
	ErrInvalidTokenCost = errors.New("invalid token cost: must be positive")

	// ErrBackendUnavailable is returned when the backend storage is unavailable
	ErrBackendUnavailable = errors.New("backend storage unavailable")
)

// BucketType defines the type of bucket implementation
type BucketType string

const (
	// MemoryBucket is a local in-memory token bucket
	MemoryBucket BucketType = "memory"

	// RedisBucket is a token bucket shared through Redis
	RedisBucket BucketType = "redis"
)

// Bucket is the token store consulted by the RateLimiter.
//
// The RateLimiter serializes every call under its own mutex, so
// implementations need not be safe for concurrent use on their own.
type Bucket interface {
	// TryConsume refills lazily and takes n tokens if available
	TryConsume(ctx context.Context, n int) (bool, error)

	// Available refills lazily and returns the floored token count
	Available(ctx context.Context) (int, error)

	// RetryAfter reports how long until n tokens will be available
	RetryAfter(ctx context.Context, n int) (time.Duration, error)

	// Capacity returns the maximum number of tokens
	Capacity() int
}

// secondsToDuration converts fractional seconds into a Duration
func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
