// Package raindrop provides the HTTP client for the Raindrop.io REST API.
//
// This file handles:
// - Rate limiter admission for every upstream call
// - Retries with exponential backoff for transient failures
// - Classification of HTTP responses into apierr kinds
// - Circuit breaker feedback after each attempt
// - Bookmark, collection and user endpoints
package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/queue"
	"github.com/pdmimpulse/raindrop-mcp/internal/transport"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// Common errors
var (
	ErrClientClosed      = errors.New("client has been closed")
	ErrClientNotStarted  = errors.New("client not initialized, call Start first")
	errMissingID         = errors.New("item has no _id")
	errUnexpectedPayload = errors.New("unexpected response payload")
)

// DefaultUserAgent identifies the client upstream
const DefaultUserAgent = "Raindrop-MCP-Client/0.1.0"

// RetryConfig bounds the retry loop
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns 3 retries, 1s base delay, 60s cap
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay) for a 0-indexed attempt
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := r.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// ClientConfig configures the Raindrop client
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	AcquireTimeout time.Duration
	UserAgent      string
	Retry          RetryConfig
	Pool           transport.PoolConfig
}

// DefaultClientConfig returns the production settings
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "https://api.raindrop.io/rest/v1",
		RequestTimeout: 30 * time.Second,
		AcquireTimeout: 30 * time.Second,
		UserAgent:      DefaultUserAgent,
		Retry:          DefaultRetryConfig(),
		Pool:           transport.DefaultPoolConfig(),
	}
}

// Authenticator supplies credentials for upstream calls
type Authenticator interface {
	Initialize(ctx context.Context) error
	EnsureAuthenticated(ctx context.Context) error
	AuthHeaders() (http.Header, error)
	HealthCheck(ctx context.Context) AuthHealth
}

// Limiter admits upstream calls and receives their outcome
type Limiter interface {
	Start(ctx context.Context)
	Stop()
	Acquire(ctx context.Context, priority queue.Priority, timeout time.Duration) (bool, error)
	RecordSuccess()
	RecordFailure()
	Status(ctx context.Context) limiter.Status
}

type priorityKey struct{}

// WithPriority sets the limiter priority used for calls made with ctx
func WithPriority(ctx context.Context, p queue.Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority carried by ctx, normal by default
func PriorityFrom(ctx context.Context) queue.Priority {
	if p, ok := ctx.Value(priorityKey{}).(queue.Priority); ok {
		return p
	}
	return queue.PriorityNormal
}

// Client is the rate limited, retrying Raindrop.io API client
type Client struct {
	cfg     ClientConfig
	auth    Authenticator
	limiter Limiter
	logger  *utils.Logger

	transport  *transport.Transport
	httpClient *http.Client
	sleep      func(context.Context, time.Duration) error
	metrics    transport.MetricsHook

	mu      sync.Mutex
	started bool
	closed  bool
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithSleep replaces the backoff sleep
func WithSleep(sleep func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithMetrics receives per-request transport metrics
func WithMetrics(hook transport.MetricsHook) ClientOption {
	return func(c *Client) {
		c.metrics = hook
	}
}

// NewClient creates a client. Start must be called before issuing requests.
func NewClient(cfg ClientConfig, auth Authenticator, rl Limiter, logger *utils.Logger, options ...ClientOption) (*Client, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if rl == nil {
		return nil, errors.New("rate limiter is required")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	defaults := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	c := &Client{
		cfg:     cfg,
		auth:    auth,
		limiter: rl,
		logger:  logger.Component("raindrop_client"),
		sleep:   sleepContext,
	}
	for _, option := range options {
		option(c)
	}

	transportOpts := []transport.Option{
		transport.WithBase(transport.NewPooledTransport(cfg.Pool)),
		transport.WithLogger(c.logger),
		transport.WithRequestModifier(transport.AddRequestHeaders(map[string]string{
			"User-Agent":   cfg.UserAgent,
			"Content-Type": "application/json",
		})),
		transport.WithRequestModifier(transport.AddHeaderSource(auth.AuthHeaders)),
	}
	if c.metrics != nil {
		transportOpts = append(transportOpts, transport.WithMetricsHook(c.metrics))
	}
	c.transport = transport.New(transportOpts...)
	c.httpClient = &http.Client{
		Transport: c.transport,
		Timeout:   cfg.RequestTimeout,
	}

	return c, nil
}

// Start validates credentials and starts the rate limiter
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return nil
	}

	if err := c.auth.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	c.limiter.Start(ctx)
	c.started = true

	c.logger.Info("Raindrop API client initialized", map[string]interface{}{
		"base_url": c.cfg.BaseURL,
	})
	return nil
}

// Close stops the limiter and releases pooled connections. It is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.limiter.Stop()
	c.transport.CloseIdleConnections()

	c.logger.Info("Raindrop API client closed", nil)
}

func (c *Client) state() (started, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.closed
}

// doRequest performs one admitted upstream call with retries and decodes the
// JSON response into out when out is non-nil
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	started, closed := c.state()
	if closed {
		return ErrClientClosed
	}
	if !started {
		return ErrClientNotStarted
	}
	if err := c.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	endpoint := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	ok, err := c.limiter.Acquire(ctx, PriorityFrom(ctx), c.cfg.AcquireTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.RateLimit(apierr.ReasonQueueTimeout, "Rate limit exceeded and request timed out", 0)
	}

	if utils.RequestID(ctx) == "" {
		ctx = utils.WithRequestID(ctx, utils.NewRequestID())
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retry.MaxRetries; attempt++ {
		respBody, err := c.attempt(ctx, method, endpoint, payload)
		if err == nil {
			c.limiter.RecordSuccess()
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return apierr.API("Failed to decode response: "+err.Error(), http.StatusOK, err)
			}
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		apiErr, classified := apierr.As(err)
		if classified && countsAsSuccess(apiErr) {
			c.limiter.RecordSuccess()
			return err
		}
		c.limiter.RecordFailure()

		if classified && !apiErr.Retryable() {
			return err
		}

		lastErr = err
		if attempt == c.cfg.Retry.MaxRetries {
			break
		}

		delay := c.cfg.Retry.Delay(attempt)
		c.logger.Warn("Request failed, will retry", map[string]interface{}{
			"attempt":    attempt + 1,
			"delay_ms":   delay.Milliseconds(),
			"method":     method,
			"path":       path,
			"error":      err.Error(),
			"request_id": utils.RequestID(ctx),
		})
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if isTimeout(lastErr) {
		return apierr.Network(apierr.ReasonTimeout, "Request timed out after multiple retries", lastErr)
	}
	return apierr.Network(apierr.ReasonRetriesExhausted,
		fmt.Sprintf("Request failed after %d retries: %v", c.cfg.Retry.MaxRetries, lastErr), lastErr)
}

// attempt issues a single HTTP request and classifies its outcome
func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, apierr.API("failed to create request: "+err.Error(), 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var authErr *apierr.Error
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, apierr.Network(timeoutReason(err), err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network(timeoutReason(err), "failed to read response body: "+err.Error(), err)
	}

	if err := classify(resp, respBody, endpoint); err != nil {
		return nil, err
	}
	return respBody, nil
}

// classify maps a response status to an apierr error, nil for success
func classify(resp *http.Response, body []byte, endpoint string) error {
	status := resp.StatusCode
	if status == http.StatusOK || status == http.StatusCreated {
		return nil
	}

	msg := errorMessage(body)
	withDefault := func(def string) string {
		if msg == "" {
			return def
		}
		return msg
	}

	switch {
	case status == http.StatusBadRequest:
		return apierr.Validation("", withDefault("Bad request"))
	case status == http.StatusUnauthorized:
		text := withDefault("Unauthorized")
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "expired"):
			return apierr.Authentication(apierr.ReasonExpiredToken, text)
		case strings.Contains(lower, "token"):
			return apierr.Authentication(apierr.ReasonInvalidToken, text)
		default:
			return apierr.Authentication(apierr.ReasonNone, text)
		}
	case status == http.StatusForbidden:
		return apierr.Permission(withDefault("Forbidden"))
	case status == http.StatusNotFound:
		resource, id := resourceFromPath(endpoint)
		if resource == "" {
			return apierr.NotFound("Resource", 0)
		}
		return apierr.NotFound(resource, id)
	case status == http.StatusTooManyRequests:
		return apierr.RateLimit(apierr.ReasonUpstreamThrottled, withDefault("Too many requests"), parseRetryAfter(resp.Header.Get("Retry-After")))
	case status >= 500:
		return apierr.Server(withDefault("Server error"), status)
	default:
		return apierr.API(withDefault(fmt.Sprintf("Unexpected status code: %d", status)), status, nil)
	}
}

// countsAsSuccess reports whether an error is a client-side rejection that
// says nothing about upstream health
func countsAsSuccess(e *apierr.Error) bool {
	switch e.Kind {
	case apierr.KindNetwork, apierr.KindServer, apierr.KindRateLimit:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func errorMessage(body []byte) string {
	var payload struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.ErrorMessage
}

// resourceFromPath recognizes /raindrop/{id} and /collection/{id}
func resourceFromPath(endpoint string) (string, int64) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", 0
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", 0
	}
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return "", 0
	}
	switch parts[len(parts)-2] {
	case "raindrop":
		return "Bookmark", id
	case "collection":
		return "Collection", id
	}
	return "", 0
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := apierr.As(err); ok && e.Reason == apierr.ReasonTimeout {
		return true
	}
	return timeoutReason(err) == apierr.ReasonTimeout
}

func timeoutReason(err error) apierr.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.ReasonTimeout
	}
	return apierr.ReasonNone
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decodeItems parses list entries one by one, skipping the ones that fail
func decodeItems[T any](logger *utils.Logger, kind string, raw []json.RawMessage) []T {
	items := make([]T, 0, len(raw))
	for _, entry := range raw {
		var item T
		if err := json.Unmarshal(entry, &item); err != nil {
			logger.Warn("Failed to parse "+kind, map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		items = append(items, item)
	}
	return items
}

type itemEnvelope[T any] struct {
	Item *T `json:"item"`
}

type listEnvelope struct {
	Items []json.RawMessage `json:"items"`
	Count int               `json:"count"`
	Total int               `json:"total"`
}

func (c *Client) getItem(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.doRequest(ctx, method, path, nil, body, out)
}

// User API

// GetUser returns the account owning the token
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var env struct {
		User *User `json:"user"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/user", nil, nil, &env); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, apierr.API("user missing from response", http.StatusOK, errUnexpectedPayload)
	}
	return env.User, nil
}

// Bookmark API

// Query encodes the parameters for the listing endpoint. Empty values are
// omitted.
func (p SearchParams) Query() url.Values {
	q := url.Values{}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Type != "" {
		q.Set("type", string(p.Type))
	}
	if p.Tag != "" {
		q.Set("tag", p.Tag)
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}
	q.Set("page", strconv.Itoa(p.Page))
	if p.PerPage > 0 {
		q.Set("perpage", strconv.Itoa(p.PerPage))
	}
	return q
}

// SearchBookmarks lists bookmarks of a collection (0 for all)
func (c *Client) SearchBookmarks(ctx context.Context, params SearchParams) (*SearchResult, error) {
	var env listEnvelope
	path := fmt.Sprintf("/raindrops/%d", params.Collection)
	if err := c.doRequest(ctx, http.MethodGet, path, params.Query(), nil, &env); err != nil {
		return nil, err
	}
	return &SearchResult{
		Items: decodeItems[Bookmark](c.logger, "bookmark", env.Items),
		Count: env.Count,
		Total: env.Total,
	}, nil
}

// GetBookmark fetches one bookmark
func (c *Client) GetBookmark(ctx context.Context, id int64) (*Bookmark, error) {
	return c.bookmark(ctx, http.MethodGet, fmt.Sprintf("/raindrop/%d", id), nil)
}

// CreateBookmark creates a bookmark from an API payload
func (c *Client) CreateBookmark(ctx context.Context, payload map[string]interface{}) (*Bookmark, error) {
	return c.bookmark(ctx, http.MethodPost, "/raindrop", payload)
}

// UpdateBookmark applies a partial update
func (c *Client) UpdateBookmark(ctx context.Context, id int64, payload map[string]interface{}) (*Bookmark, error) {
	return c.bookmark(ctx, http.MethodPut, fmt.Sprintf("/raindrop/%d", id), payload)
}

// DeleteBookmark removes a bookmark
func (c *Client) DeleteBookmark(ctx context.Context, id int64) error {
	return c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/raindrop/%d", id), nil, nil, nil)
}

func (c *Client) bookmark(ctx context.Context, method, path string, body interface{}) (*Bookmark, error) {
	var env itemEnvelope[Bookmark]
	if err := c.getItem(ctx, method, path, body, &env); err != nil {
		return nil, err
	}
	if env.Item == nil {
		return nil, apierr.API("item missing from response", http.StatusOK, errUnexpectedPayload)
	}
	return env.Item, nil
}

// Collection API

// ListCollections merges root and child collections. Both listings are
// fetched concurrently and a failure of either is logged and tolerated.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var root, children []Collection

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := c.collectionList(gctx, "/collections")
		if err != nil {
			c.logger.Error(err, "Failed to fetch root collections", nil)
			return nil
		}
		root = items
		return nil
	})
	g.Go(func() error {
		items, err := c.collectionList(gctx, "/collections/childrens")
		if err != nil {
			c.logger.Warn("Failed to fetch child collections", map[string]interface{}{
				"error": err.Error(),
			})
			return nil
		}
		children = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collections := make([]Collection, 0, len(root)+len(children))
	collections = append(collections, root...)
	return append(collections, children...), nil
}

func (c *Client) collectionList(ctx context.Context, path string) ([]Collection, error) {
	var env listEnvelope
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &env); err != nil {
		return nil, err
	}
	return decodeItems[Collection](c.logger, "collection", env.Items), nil
}

// GetCollection fetches one collection
func (c *Client) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	return c.collection(ctx, http.MethodGet, fmt.Sprintf("/collection/%d", id), nil)
}

// CreateCollection creates a collection from an API payload
func (c *Client) CreateCollection(ctx context.Context, payload map[string]interface{}) (*Collection, error) {
	return c.collection(ctx, http.MethodPost, "/collection", payload)
}

// UpdateCollection applies a partial update
func (c *Client) UpdateCollection(ctx context.Context, id int64, payload map[string]interface{}) (*Collection, error) {
	return c.collection(ctx, http.MethodPut, fmt.Sprintf("/collection/%d", id), payload)
}

// DeleteCollection removes a collection
func (c *Client) DeleteCollection(ctx context.Context, id int64) error {
	return c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/collection/%d", id), nil, nil, nil)
}

func (c *Client) collection(ctx context.Context, method, path string, body interface{}) (*Collection, error) {
	var env itemEnvelope[Collection]
	if err := c.getItem(ctx, method, path, body, &env); err != nil {
		return nil, err
	}
	if env.Item == nil {
		return nil, apierr.API("item missing from response", http.StatusOK, errUnexpectedPayload)
	}
	return env.Item, nil
}

// Health

// HealthInfo summarizes the client and upstream state
type HealthInfo struct {
	ClientStatus      string         `json:"client_status"`
	AuthStatus        AuthHealth     `json:"auth_status"`
	RateLimiterStatus limiter.Status `json:"rate_limiter_status"`
	APIStatus         string         `json:"api_status"`
	UserID            int64          `json:"user_id,omitempty"`
	APIError          string         `json:"api_error,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// HealthCheck probes the upstream API with a low priority call
func (c *Client) HealthCheck(ctx context.Context) HealthInfo {
	_, closed := c.state()
	info := HealthInfo{
		ClientStatus:      "healthy",
		AuthStatus:        c.auth.HealthCheck(ctx),
		RateLimiterStatus: c.limiter.Status(ctx),
		Timestamp:         time.Now().UTC(),
	}
	if closed {
		info.ClientStatus = "closed"
	}

	user, err := c.GetUser(WithPriority(ctx, queue.PriorityLow))
	if err != nil {
		info.APIStatus = "error"
		info.APIError = err.Error()
		return info
	}
	info.APIStatus = "connected"
	info.UserID = user.ID
	return info
}
