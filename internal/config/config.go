// Package config provides configuration loading, validation, and access for
// the Raindrop.io bookmark server.
//
// This file contains:
// 1. Configuration structure definitions that map to JSON/YAML configuration files
// 2. Loading logic using Viper to read from .env, files and environment variables
// 3. Default value settings for all configuration parameters
// 4. Validation logic to ensure the settings are usable
//
// Every key can be set through RAINDROP_MCP_<SECTION>_<KEY>. The short
// variable names used by earlier deployments (RAINDROP_API_TOKEN,
// RATE_LIMIT_REQUESTS, ...) are bound as well. Durations accept Go syntax
// ("1m30s") or plain numbers of seconds ("30", "1.5").
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every structured environment variable
const EnvPrefix = "RAINDROP_MCP"

// Config represents the application configuration
type Config struct {
	// Raindrop.io API settings
	Raindrop RaindropConfig `mapstructure:"raindrop"`

	// Rate limiting configuration
	RateLimiter RateLimiterConfig `mapstructure:"rateLimiter"`

	// HTTP connection pool toward the API
	Pool PoolConfig `mapstructure:"pool"`

	// Redis configuration for the shared token bucket
	Redis RedisConfig `mapstructure:"redis"`

	// Status listener settings
	Server ServerConfig `mapstructure:"server"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Environment is development or production
	Environment string `mapstructure:"environment"`
}

// RaindropConfig contains API client settings
type RaindropConfig struct {
	Token         string        `mapstructure:"token"`
	BaseURL       string        `mapstructure:"baseURL"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"maxRetries"`
	RetryDelay    time.Duration `mapstructure:"retryDelay"`
	MaxRetryDelay time.Duration `mapstructure:"maxRetryDelay"`
	UserAgent     string        `mapstructure:"userAgent"`
}

// RateLimiterConfig contains admission control settings
type RateLimiterConfig struct {
	RequestsPerMinute int           `mapstructure:"requestsPerMinute"`
	AcquireTimeout    time.Duration `mapstructure:"acquireTimeout"`
	MaxQueueSize      int           `mapstructure:"maxQueueSize"`

	// Bucket selects memory or redis
	Bucket    string        `mapstructure:"bucket"`
	KeyPrefix string        `mapstructure:"keyPrefix"`
	KeyExpiry time.Duration `mapstructure:"keyExpiry"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
}

// CircuitBreakerConfig contains breaker thresholds
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failureThreshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recoveryTimeout"`
	SuccessThreshold int           `mapstructure:"successThreshold"`
}

// PoolConfig sizes the HTTP connection pool
type PoolConfig struct {
	MaxConns        int           `mapstructure:"maxConns"`
	MaxConnsPerHost int           `mapstructure:"maxConnsPerHost"`
	KeepAlive       time.Duration `mapstructure:"keepAlive"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"poolSize"`
	ConnectAttempts int           `mapstructure:"connectAttempts"`
	RetryInterval   time.Duration `mapstructure:"retryInterval"`
}

// ServerConfig contains status listener settings
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// IsDevelopment reports whether the environment is development
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// legacyEnv maps keys to the unprefixed variable names of earlier deployments
var legacyEnv = map[string]string{
	"raindrop.token":                "RAINDROP_API_TOKEN",
	"raindrop.baseURL":              "RAINDROP_API_BASE_URL",
	"raindrop.timeout":              "REQUEST_TIMEOUT",
	"raindrop.maxRetries":           "MAX_RETRIES",
	"raindrop.retryDelay":           "RETRY_DELAY",
	"rateLimiter.requestsPerMinute": "RATE_LIMIT_REQUESTS",
	"server.host":                   "SERVER_HOST",
	"server.port":                   "SERVER_PORT",
	"logging.level":                 "LOG_LEVEL",
	"environment":                   "ENVIRONMENT",
}

// LoadConfig loads the configuration. An explicit configPath must exist;
// without one the default locations are searched and a missing file is not
// an error. envFiles default to .env; missing ones are skipped and never
// override variables already set.
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure Viper for environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", legacy, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Raindrop.Token = strings.TrimSpace(config.Raindrop.Token)
	config.Logging.Level = strings.ToLower(config.Logging.Level)
	config.RateLimiter.Bucket = strings.ToLower(config.RateLimiter.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// secondsToDurationHook reads bare numbers as seconds. Strings that are not
// numbers pass through to the Go duration parser.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return data, nil
			}
			return seconds(secs), nil
		case int:
			return seconds(float64(v)), nil
		case int64:
			return seconds(float64(v)), nil
		case float64:
			return seconds(v), nil
		}
		return data, nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Raindrop defaults
	v.SetDefault("raindrop.token", "")
	v.SetDefault("raindrop.baseURL", "https://api.raindrop.io/rest/v1")
	v.SetDefault("raindrop.timeout", "30s")
	v.SetDefault("raindrop.maxRetries", 3)
	v.SetDefault("raindrop.retryDelay", "1s")
	v.SetDefault("raindrop.maxRetryDelay", "60s")
	v.SetDefault("raindrop.userAgent", "Raindrop-MCP-Client/0.1.0")

	// Rate limiter defaults
	v.SetDefault("rateLimiter.requestsPerMinute", 120)
	v.SetDefault("rateLimiter.acquireTimeout", "30s")
	v.SetDefault("rateLimiter.maxQueueSize", 1000)
	v.SetDefault("rateLimiter.bucket", "memory")
	v.SetDefault("rateLimiter.keyPrefix", "raindrop-rate-limit:")
	v.SetDefault("rateLimiter.keyExpiry", "24h")
	v.SetDefault("rateLimiter.circuitBreaker.enabled", true)
	v.SetDefault("rateLimiter.circuitBreaker.failureThreshold", 5)
	v.SetDefault("rateLimiter.circuitBreaker.recoveryTimeout", "60s")
	v.SetDefault("rateLimiter.circuitBreaker.successThreshold", 2)

	// Connection pool defaults
	v.SetDefault("pool.maxConns", 10)
	v.SetDefault("pool.maxConnsPerHost", 5)
	v.SetDefault("pool.keepAlive", "30s")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.connectAttempts", 3)
	v.SetDefault("redis.retryInterval", "1s")

	// Status listener defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("environment", "development")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Raindrop.BaseURL == "" {
		return errors.New("raindrop base URL must be specified")
	}
	if cfg.Raindrop.Timeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if cfg.Raindrop.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if cfg.Raindrop.RetryDelay > cfg.Raindrop.MaxRetryDelay {
		return fmt.Errorf("retry delay %s exceeds max retry delay %s", cfg.Raindrop.RetryDelay, cfg.Raindrop.MaxRetryDelay)
	}

	rl := cfg.RateLimiter
	if rl.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}
	if rl.MaxQueueSize < 0 {
		return errors.New("max queue size must not be negative")
	}
	switch rl.Bucket {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("redis address must be specified when using the Redis bucket")
		}
	default:
		return fmt.Errorf("unknown bucket type %q: must be memory or redis", rl.Bucket)
	}
	if rl.CircuitBreaker.Enabled {
		if rl.CircuitBreaker.FailureThreshold < 1 || rl.CircuitBreaker.SuccessThreshold < 1 {
			return errors.New("circuit breaker thresholds must be at least 1")
		}
		if rl.CircuitBreaker.RecoveryTimeout <= 0 {
			return errors.New("circuit breaker recovery timeout must be positive")
		}
	}

	if cfg.Server.Enabled && (cfg.Server.Port < 1 || cfg.Server.Port > 65535) {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}

	return nil
}
