// Package limiter provides admission control for calls to the Raindrop API.
//
// This file implements a Redis-backed token bucket so that several server
// processes sharing one API token also share one request budget.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// RedisOptions contains Redis-specific configuration for RedisTokenBucket
type RedisOptions struct {
	// KeyPrefix is used as a prefix for Redis keys to avoid collisions
	KeyPrefix string

	// Name distinguishes buckets sharing a prefix, typically a token fingerprint
	Name string

	// KeyExpiry is the TTL for Redis keys
	KeyExpiry time.Duration
}

// consumeScript refills the bucket and takes ARGV[4] tokens if possible.
// A cost of 0 only refills, which serves the peek operations.
//
// KEYS[1] = bucket key
// KEYS[2] = last refill timestamp key
// ARGV[1] = capacity
// ARGV[2] = tokens per second
// ARGV[3] = current timestamp (fractional seconds since epoch)
// ARGV[4] = token cost
// ARGV[5] = key expiry in seconds
//
// Returns {allowed, tokens} with tokens as a string to keep the fraction.
const consumeScript = `
	local bucket_key = KEYS[1]
	local timestamp_key = KEYS[2]
	local capacity = tonumber(ARGV[1])
	local tokens_per_sec = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local cost = tonumber(ARGV[4])
	local key_expiry = tonumber(ARGV[5])

	local last_refill = tonumber(redis.call('GET', timestamp_key) or now)
	local tokens = tonumber(redis.call('GET', bucket_key) or capacity)

	local elapsed = now - last_refill
	if elapsed > 0 then
		tokens = math.min(capacity, tokens + elapsed * tokens_per_sec)
		last_refill = now
	end

	local allowed = 0
	if cost > 0 and tokens >= cost then
		tokens = tokens - cost
		allowed = 1
	end

	redis.call('SET', timestamp_key, tostring(last_refill), 'EX', key_expiry)
	redis.call('SET', bucket_key, tostring(tokens), 'EX', key_expiry)

	return {allowed, tostring(tokens)}
`

// RedisTokenBucket implements Bucket on top of Redis
type RedisTokenBucket struct {
	client redis.UniversalClient

	// Configuration
	capacity   int
	refillRate float64
	bucketKey  string
	stampKey   string
	keyExpiry  time.Duration

	script *redis.Script
	clock  clock.Clock
	logger *utils.Logger
}

// NewRedisTokenBucket creates a Redis-backed bucket. A bucket that does not
// exist yet in Redis starts full.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, refillRate float64, opts *RedisOptions, clk clock.Clock, logger *utils.Logger) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if refillRate <= 0 {
		return nil, ErrInvalidRefillRate
	}

	if opts == nil {
		opts = &RedisOptions{}
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "raindrop-mcp:ratelimit:"
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.KeyExpiry <= 0 {
		opts.KeyExpiry = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	b := &RedisTokenBucket{
		client:     client,
		capacity:   capacity,
		refillRate: refillRate,
		bucketKey:  opts.KeyPrefix + opts.Name + ":tokens",
		stampKey:   opts.KeyPrefix + opts.Name + ":last_refill",
		keyExpiry:  opts.KeyExpiry,
		script:     redis.NewScript(consumeScript),
		clock:      clk,
		logger:     logger,
	}

	logger.Info("Redis token bucket initialized", map[string]interface{}{
		"capacity":    capacity,
		"refill_rate": refillRate,
		"bucket_key":  b.bucketKey,
		"key_expiry":  opts.KeyExpiry.String(),
	})

	return b, nil
}

// run executes the script and returns whether cost was granted plus the
// token count after the operation
func (b *RedisTokenBucket) run(ctx context.Context, cost int) (bool, float64, error) {
	now := float64(b.clock.Now().UnixNano()) / float64(time.Second)

	res, err := b.script.Run(ctx, b.client,
		[]string{b.bucketKey, b.stampKey},
		b.capacity,
		strconv.FormatFloat(b.refillRate, 'f', -1, 64),
		strconv.FormatFloat(now, 'f', 6, 64),
		cost,
		int64(b.keyExpiry.Seconds()),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script result: %v", res)
	}

	allowed, _ := values[0].(int64)
	raw, _ := values[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parse token count %q: %w", raw, err)
	}

	return allowed == 1, tokens, nil
}

// TryConsume implements Bucket
func (b *RedisTokenBucket) TryConsume(ctx context.Context, n int) (bool, error) {
	if n <= 0 {
		return false, ErrInvalidTokenCost
	}
	ok, _, err := b.run(ctx, n)
	return ok, err
}

// Available implements Bucket
func (b *RedisTokenBucket) Available(ctx context.Context) (int, error) {
	_, tokens, err := b.run(ctx, 0)
	if err != nil {
		return 0, err
	}
	return int(math.Floor(tokens)), nil
}

// RetryAfter implements Bucket
func (b *RedisTokenBucket) RetryAfter(ctx context.Context, n int) (time.Duration, error) {
	if n <= 0 {
		return 0, ErrInvalidTokenCost
	}
	_, tokens, err := b.run(ctx, 0)
	if err != nil {
		return 0, err
	}
	if tokens >= float64(n) {
		return 0, nil
	}
	return secondsToDuration((float64(n) - tokens) / b.refillRate), nil
}

// Capacity implements Bucket
func (b *RedisTokenBucket) Capacity() int {
	return b.capacity
}
