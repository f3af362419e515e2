// Package main is the entry point for the Raindrop.io bookmark MCP server.
//
// This file ties the components together:
// 1. Configuration loading from .env, an optional config file and the environment
// 2. Initialization of core components:
//   - Redis client for a token bucket shared between processes (optional)
//   - Rate limiter (token bucket, circuit breaker, priority queue)
//   - Authentication manager validating the API token
//   - Retrying Raindrop.io client
//   - Tool handler and MCP protocol server
//
// 3. The MCP loop on stdin/stdout plus an optional HTTP status listener
// 4. Graceful shutdown on SIGINT/SIGTERM or when stdin closes
//
// stdout carries the protocol stream, so every log line goes to stderr.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
	"github.com/pdmimpulse/raindrop-mcp/internal/config"
	"github.com/pdmimpulse/raindrop-mcp/internal/handler"
	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/mcp"
	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
	"github.com/pdmimpulse/raindrop-mcp/internal/tools"
	"github.com/pdmimpulse/raindrop-mcp/internal/transport"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
	"github.com/pdmimpulse/raindrop-mcp/pkg/redisclient"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(utils.LogLevel(cfg.Logging.Level), cfg.Logging.Pretty, os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Error(err, "Server stopped with error", nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()

	rl, closeBucket, err := buildLimiter(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer closeBucket()

	auth := raindrop.NewAuthenticationManager(raindrop.AuthConfig{
		Token:   cfg.Raindrop.Token,
		BaseURL: cfg.Raindrop.BaseURL,
		Timeout: cfg.Raindrop.Timeout,
	}, clk, logger)

	metricsLogger := logger.Component("http")
	client, err := raindrop.NewClient(raindrop.ClientConfig{
		BaseURL:        cfg.Raindrop.BaseURL,
		RequestTimeout: cfg.Raindrop.Timeout,
		AcquireTimeout: cfg.RateLimiter.AcquireTimeout,
		UserAgent:      cfg.Raindrop.UserAgent,
		Retry: raindrop.RetryConfig{
			MaxRetries: cfg.Raindrop.MaxRetries,
			BaseDelay:  cfg.Raindrop.RetryDelay,
			MaxDelay:   cfg.Raindrop.MaxRetryDelay,
		},
		Pool: transport.PoolConfig{
			MaxConns:        cfg.Pool.MaxConns,
			MaxConnsPerHost: cfg.Pool.MaxConnsPerHost,
			KeepAlive:       cfg.Pool.KeepAlive,
		},
	}, auth, rl, logger, raindrop.WithMetrics(func(m transport.RequestMetrics) {
		metricsLogger.Debug("Upstream request finished", map[string]interface{}{
			"method":      m.Method,
			"path":        m.Path,
			"status":      m.StatusCode,
			"duration_ms": m.Duration.Milliseconds(),
			"request_id":  m.RequestID,
		})
	}))
	if err != nil {
		return fmt.Errorf("create raindrop client: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		if sugg := suggestion(err); sugg != "" {
			logger.Warn(sugg, nil)
		}
		return fmt.Errorf("start raindrop client: %w", err)
	}
	defer client.Close()

	server, err := mcp.NewServer(tools.NewHandler(client, logger), tools.Definitions(), logger)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.Serve(gctx, os.Stdin, os.Stdout)
		// stdin closing ends the session, which stops the status listener too
		stop()
		return err
	})

	if cfg.Server.Enabled {
		httpServer := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler.NewStatusHandler(rl, client, logger).Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		g.Go(func() error {
			logger.Info("Starting status server", map[string]interface{}{
				"addr": httpServer.Addr,
			})
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error(err, "Status server shutdown error", nil)
			}
			return nil
		})
	}

	logger.Info("Raindrop MCP server running", map[string]interface{}{
		"environment":   cfg.Environment,
		"bucket":        cfg.RateLimiter.Bucket,
		"status_server": cfg.Server.Enabled,
	})

	err = g.Wait()
	logger.Info("Server shutdown complete", nil)
	return err
}

// buildLimiter creates the rate limiter, backed by Redis when configured.
// The returned func releases the Redis connection.
func buildLimiter(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *utils.Logger) (*limiter.RateLimiter, func(), error) {
	lc := limiter.Config{
		RequestsPerMinute:     cfg.RateLimiter.RequestsPerMinute,
		CircuitBreakerEnabled: cfg.RateLimiter.CircuitBreaker.Enabled,
		CircuitBreaker: limiter.CircuitBreakerConfig{
			FailureThreshold: cfg.RateLimiter.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  cfg.RateLimiter.CircuitBreaker.RecoveryTimeout,
			SuccessThreshold: cfg.RateLimiter.CircuitBreaker.SuccessThreshold,
		},
		MaxQueueSize: cfg.RateLimiter.MaxQueueSize,
	}
	opts := []limiter.Option{limiter.WithClock(clk), limiter.WithLogger(logger)}
	closeFn := func() {}

	if limiter.BucketType(cfg.RateLimiter.Bucket) == limiter.RedisBucket {
		rdb, err := redisclient.Connect(ctx, redisclient.Config{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			ConnectAttempts: cfg.Redis.ConnectAttempts,
			RetryInterval:   cfg.Redis.RetryInterval,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closeFn = func() { _ = rdb.Close() }

		rpm := cfg.RateLimiter.RequestsPerMinute
		bucket, err := limiter.NewRedisTokenBucket(rdb, rpm, float64(rpm)/60.0, &limiter.RedisOptions{
			KeyPrefix: cfg.RateLimiter.KeyPrefix,
			Name:      tokenFingerprint(cfg.Raindrop.Token),
			KeyExpiry: cfg.RateLimiter.KeyExpiry,
		}, clk, logger)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("create redis token bucket: %w", err)
		}
		opts = append(opts, limiter.WithBucket(bucket))
	}

	rl, err := limiter.New(lc, opts...)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return rl, closeFn, nil
}

// tokenFingerprint names the shared bucket without storing the token
func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

type suggester interface {
	Suggestion() string
}

func suggestion(err error) string {
	var s suggester
	if errors.As(err, &s) {
		return s.Suggestion()
	}
	return ""
}
