package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears key for the test and restores it afterwards
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, legacy := range legacyEnv {
		unsetEnv(t, legacy)
	}
	unsetEnv(t, "RAINDROP_MCP_RATELIMITER_BUCKET", "RAINDROP_MCP_REDIS_ADDR", "RAINDROP_MCP_SERVER_ENABLED")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.raindrop.io/rest/v1", cfg.Raindrop.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Raindrop.Timeout)
	assert.Equal(t, 3, cfg.Raindrop.MaxRetries)
	assert.Equal(t, time.Second, cfg.Raindrop.RetryDelay)
	assert.Equal(t, time.Minute, cfg.Raindrop.MaxRetryDelay)
	assert.Equal(t, 120, cfg.RateLimiter.RequestsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.RateLimiter.AcquireTimeout)
	assert.Equal(t, 1000, cfg.RateLimiter.MaxQueueSize)
	assert.Equal(t, "memory", cfg.RateLimiter.Bucket)
	assert.Equal(t, CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 2}, cfg.RateLimiter.CircuitBreaker)
	assert.Equal(t, PoolConfig{MaxConns: 10, MaxConnsPerHost: 5, KeepAlive: 30 * time.Second}, cfg.Pool)
	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Raindrop.Token)
}

func TestLegacyEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAINDROP_API_TOKEN", "  abcdef0123456789  ")
	t.Setenv("RATE_LIMIT_REQUESTS", "60")
	t.Setenv("REQUEST_TIMEOUT", "45")
	t.Setenv("RETRY_DELAY", "1.5")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("SERVER_PORT", "8088")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "abcdef0123456789", cfg.Raindrop.Token)
	assert.Equal(t, 60, cfg.RateLimiter.RequestsPerMinute)
	assert.Equal(t, 45*time.Second, cfg.Raindrop.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Raindrop.RetryDelay)
	assert.Equal(t, 0, cfg.Raindrop.MaxRetries)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.IsProduction())
}

func TestPrefixedEnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "60")
	t.Setenv("RAINDROP_MCP_RATELIMITER_REQUESTSPERMINUTE", "90")
	t.Setenv("RAINDROP_MCP_RATELIMITER_ACQUIRETIMEOUT", "2m")

	cfg, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.RateLimiter.RequestsPerMinute)
	assert.Equal(t, 2*time.Minute, cfg.RateLimiter.AcquireTimeout)
}

func TestDotEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_HOST", "0.0.0.0")
	envFile := writeFile(t, ".env", "RAINDROP_API_TOKEN=from-dotenv-file\nSERVER_HOST=10.0.0.1\n")

	cfg, err := LoadConfig("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv-file", cfg.Raindrop.Token)
	// variables already set are not overridden
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
raindrop:
  timeout: 10
  maxRetryDelay: 2m
rateLimiter:
  requestsPerMinute: 30
  bucket: Redis
  circuitBreaker:
    recoveryTimeout: 15
redis:
  addr: redis:6379
server:
  enabled: false
`)

	cfg, err := LoadConfig(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Raindrop.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Raindrop.MaxRetryDelay)
	assert.Equal(t, 30, cfg.RateLimiter.RequestsPerMinute)
	assert.Equal(t, "redis", cfg.RateLimiter.Bucket)
	assert.Equal(t, 15*time.Second, cfg.RateLimiter.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Server.Enabled)
}

func TestMissingExplicitConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{"zero rpm", map[string]string{"RATE_LIMIT_REQUESTS": "0"}, "requests per minute must be positive"},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}, "max retries must not be negative"},
		{"delay above max", map[string]string{"RETRY_DELAY": "120"}, "exceeds max retry delay"},
		{"unknown bucket", map[string]string{"RAINDROP_MCP_RATELIMITER_BUCKET": "etcd"}, "unknown bucket type"},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "server port 70000 out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestRedisBucketNeedsAddress(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "rateLimiter:\n  bucket: redis\nredis:\n  addr: \"\"\n")

	_, err := LoadConfig(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "redis address must be specified")
}

func TestSecondsHook(t *testing.T) {
	t.Parallel()

	hook := secondsToDurationHook()
	durationType := reflect.TypeOf(time.Duration(0))

	tests := []struct {
		in   interface{}
		want interface{}
	}{
		{"30", 30 * time.Second},
		{"0.25", 250 * time.Millisecond},
		{"1m", "1m"},
		{45, 45 * time.Second},
		{float64(1.5), 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := hook(reflect.TypeOf(tt.in), durationType, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}

	// already a duration, or not a duration target
	got, err := hook(durationType, durationType, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, got)
	got, err = hook(reflect.TypeOf(""), reflect.TypeOf(0), "30")
	require.NoError(t, err)
	assert.Equal(t, "30", got)
}
