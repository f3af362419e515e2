// Package transport provides the HTTP plumbing shared by the Raindrop client
// and the token validator.
//
// This file handles:
// - Pooled connections (total, per host, keep-alive)
// - Header manipulation for authentication and client identification
// - Metrics collection for request/response timing
package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// RequestModifier is a function that can modify a request before it's sent
type RequestModifier func(*http.Request) error

// RequestMetrics contains timing and size information for a request
type RequestMetrics struct {
	StartTime    time.Time
	Duration     time.Duration
	Method       string
	Path         string
	RequestID    string
	RequestSize  int64
	ResponseSize int64
	StatusCode   int
	Err          error
}

// MetricsHook receives the metrics of every finished round trip
type MetricsHook func(RequestMetrics)

// PoolConfig sizes the connection pool
type PoolConfig struct {
	MaxConns        int
	MaxConnsPerHost int
	KeepAlive       time.Duration
	DialTimeout     time.Duration
}

// DefaultPoolConfig returns 10 connections, 5 per host, 30s keep-alive
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        10,
		MaxConnsPerHost: 5,
		KeepAlive:       30 * time.Second,
		DialTimeout:     10 * time.Second,
	}
}

// NewPooledTransport creates an *http.Transport sized by cfg
func NewPooledTransport(cfg PoolConfig) *http.Transport {
	defaults := DefaultPoolConfig()
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaults.MaxConns
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaults.MaxConnsPerHost
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.KeepAlive,
		TLSHandshakeTimeout: cfg.DialTimeout,
	}
}

// Transport is an http.RoundTripper that applies request modifiers and
// records metrics around a base transport
type Transport struct {
	base      http.RoundTripper
	modifiers []RequestModifier
	onMetrics MetricsHook
	logger    *utils.Logger
}

// Option is a function that configures a Transport
type Option func(*Transport)

// WithBase sets the underlying transport
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

// WithRequestModifier adds a request modifier
func WithRequestModifier(modifier RequestModifier) Option {
	return func(t *Transport) {
		t.modifiers = append(t.modifiers, modifier)
	}
}

// WithMetricsHook sets the metrics callback
func WithMetricsHook(hook MetricsHook) Option {
	return func(t *Transport) {
		t.onMetrics = hook
	}
}

// WithLogger sets the logger
func WithLogger(logger *utils.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New creates a Transport with the given options
func New(options ...Option) *Transport {
	t := &Transport{
		base:   http.DefaultTransport,
		logger: utils.NewNopLogger(),
	}

	for _, option := range options {
		option(t)
	}

	return t
}

// RoundTrip implements http.RoundTripper. The caller's request is cloned
// before modification.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	metrics := RequestMetrics{
		StartTime:   time.Now(),
		Method:      req.Method,
		Path:        req.URL.Path,
		RequestID:   utils.RequestID(req.Context()),
		RequestSize: req.ContentLength,
	}

	outReq := req.Clone(req.Context())

	// Apply request modifiers
	for _, modifier := range t.modifiers {
		if err := modifier(outReq); err != nil {
			closeBody(outReq)
			return nil, fmt.Errorf("request modifier failed: %w", err)
		}
	}
	if metrics.RequestID != "" && outReq.Header.Get("X-Request-ID") == "" {
		outReq.Header.Set("X-Request-ID", metrics.RequestID)
	}

	t.logger.Debug("Sending request", map[string]interface{}{
		"method":       outReq.Method,
		"url":          outReq.URL.String(),
		"request_id":   metrics.RequestID,
		"request_size": metrics.RequestSize,
	})

	resp, err := t.base.RoundTrip(outReq)
	metrics.Duration = time.Since(metrics.StartTime)

	if err != nil {
		metrics.Err = err
		t.report(metrics)
		t.logger.Debug("Request failed", map[string]interface{}{
			"error":       err.Error(),
			"duration_ms": metrics.Duration.Milliseconds(),
			"request_id":  metrics.RequestID,
		})
		return nil, err
	}

	metrics.StatusCode = resp.StatusCode
	metrics.ResponseSize = resp.ContentLength
	t.report(metrics)

	t.logger.Debug("Received response", map[string]interface{}{
		"status_code":   metrics.StatusCode,
		"duration_ms":   metrics.Duration.Milliseconds(),
		"request_id":    metrics.RequestID,
		"response_size": metrics.ResponseSize,
	})

	return resp, nil
}

// CloseIdleConnections releases pooled connections of the base transport
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

func (t *Transport) report(m RequestMetrics) {
	if t.onMetrics != nil {
		t.onMetrics(m)
	}
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// Common request modifiers

// AddAuthHeader adds an authorization header to the request
func AddAuthHeader(authType, authValue string) RequestModifier {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", fmt.Sprintf("%s %s", authType, authValue))
		return nil
	}
}

// AddRequestHeaders adds custom headers to the request
func AddRequestHeaders(headers map[string]string) RequestModifier {
	return func(req *http.Request) error {
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		return nil
	}
}

// AddHeaderSource adds headers produced by source at send time. A source
// error aborts the request.
func AddHeaderSource(source func() (http.Header, error)) RequestModifier {
	return func(req *http.Request) error {
		headers, err := source()
		if err != nil {
			return err
		}
		for key, values := range headers {
			req.Header.Del(key)
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		return nil
	}
}
