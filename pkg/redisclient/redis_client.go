// Package redisclient connects to the Redis server that backs the shared
// token bucket.
//
// Several server processes using the same Raindrop.io token share one
// bucket in Redis, so the connection has to be up before the rate limiter
// is built. Connect retries the initial ping a bounded number of times.
package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

var (
	// ErrEmptyAddr is returned when no address is configured
	ErrEmptyAddr = errors.New("empty redis address")

	// ErrNotReady is returned when every connection attempt failed
	ErrNotReady = errors.New("redis did not become ready")

	// ErrHealthcheckFailed wraps a failed health ping
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)

// Config contains Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// ConnectAttempts bounds the initial ping attempts
	ConnectAttempts int

	// RetryInterval separates the attempts
	RetryInterval time.Duration

	// ConnectTimeout bounds the whole connect phase
	ConnectTimeout time.Duration
}

func (cfg Config) options() *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Connect creates a client and pings until the server answers
func Connect(ctx context.Context, cfg Config, logger *utils.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddr
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := redis.NewClient(cfg.options())

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		lastErr = client.Ping(ctx).Err()
		if lastErr == nil {
			logger.Info("Connected to Redis", map[string]interface{}{
				"addr":    cfg.Addr,
				"db":      cfg.DB,
				"attempt": attempt,
			})
			return client, nil
		}

		logger.Warn("Redis ping failed", map[string]interface{}{
			"addr":    cfg.Addr,
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
		if attempt == cfg.ConnectAttempts {
			break
		}

		timer := time.NewTimer(cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = client.Close()
			return nil, fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
		case <-timer.C:
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrNotReady, cfg.ConnectAttempts, lastErr)
}

// HealthCheck pings the server
func HealthCheck(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrHealthcheckFailed, err)
	}
	return nil
}
