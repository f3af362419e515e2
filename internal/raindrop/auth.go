package raindrop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
	"github.com/pdmimpulse/raindrop-mcp/internal/transport"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

const (
	// validationCacheTTL is how long a validation result is trusted
	validationCacheTTL = 5 * time.Minute

	// reauthInterval spaces revalidation attempts while unauthenticated
	reauthInterval = 30 * time.Second
)

var tokenFormat = regexp.MustCompile(`^[A-Za-z0-9._-]{10,}$`)

// ValidateTokenFormat performs the offline format check
func ValidateTokenFormat(token string) bool {
	return tokenFormat.MatchString(strings.TrimSpace(token))
}

type cachedValidation struct {
	valid bool
	at    time.Time
}

// TokenValidator checks a token against GET /user and caches the answer
type TokenValidator struct {
	token      string
	baseURL    string
	httpClient *http.Client
	clock      clock.Clock

	mu    sync.Mutex
	cache map[string]cachedValidation
}

// NewTokenValidator creates a validator for token
func NewTokenValidator(token, baseURL string, timeout time.Duration, clk clock.Clock) *TokenValidator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rt := transport.New(
		transport.WithRequestModifier(transport.AddAuthHeader("Bearer", token)),
		transport.WithRequestModifier(transport.AddRequestHeaders(map[string]string{
			"Content-Type": "application/json",
		})),
	)
	return &TokenValidator{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: rt, Timeout: timeout},
		clock:      clk,
		cache:      make(map[string]cachedValidation),
	}
}

// Validate reports whether the token is accepted upstream. A cached result
// younger than five minutes is returned unless force is set.
func (v *TokenValidator) Validate(ctx context.Context, force bool) (bool, error) {
	if !force {
		if valid, ok := v.cached(); ok {
			return valid, nil
		}
	}

	valid, err := v.validateAgainstAPI(ctx)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	v.cache[v.token] = cachedValidation{valid: valid, at: v.clock.Now()}
	v.mu.Unlock()
	return valid, nil
}

func (v *TokenValidator) cached() (bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cache[v.token]
	if !ok {
		return false, false
	}
	if v.clock.Now().Sub(entry.at) < validationCacheTTL {
		return entry.valid, true
	}
	delete(v.cache, v.token)
	return false, false
}

func (v *TokenValidator) validateAgainstAPI(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/user", nil)
	if err != nil {
		return false, apierr.Authentication(apierr.ReasonNone, "Token validation failed: "+err.Error())
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, apierr.Network(timeoutReason(err), "Failed to connect to Raindrop.io API: "+err.Error(), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	case http.StatusUnauthorized:
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(strings.ToLower(string(body)), "expired") {
			return false, apierr.Authentication(apierr.ReasonExpiredToken, "")
		}
		return false, apierr.Authentication(apierr.ReasonInvalidToken, "")
	case http.StatusForbidden:
		return false, apierr.Authentication(apierr.ReasonNone, "Token lacks required permissions")
	default:
		return false, apierr.Authentication(apierr.ReasonNone, fmt.Sprintf("Unexpected response status: %d", resp.StatusCode))
	}
}

// AuthHeaders returns the bearer header
func (v *TokenValidator) AuthHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+v.token)
	h.Set("Content-Type", "application/json")
	return h
}

// AuthHealth is the authentication part of a health report
type AuthHealth struct {
	Authenticated   bool      `json:"authenticated"`
	TokenConfigured bool      `json:"token_configured"`
	TokenValid      *bool     `json:"token_valid,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AuthConfig configures the AuthenticationManager
type AuthConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// AuthenticationManager owns the token lifecycle of the server
type AuthenticationManager struct {
	cfg    AuthConfig
	clock  clock.Clock
	logger *utils.Logger

	mu            sync.RWMutex
	validator     *TokenValidator
	authenticated bool

	// serializes recovery so one revalidation runs at a time
	recoverMu   sync.Mutex
	lastAttempt time.Time
	lastErr     error
}

// NewAuthenticationManager creates a manager. Nothing is validated until
// Initialize.
func NewAuthenticationManager(cfg AuthConfig, clk clock.Clock, logger *utils.Logger) *AuthenticationManager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	return &AuthenticationManager{
		cfg:    cfg,
		clock:  clk,
		logger: logger.Component("auth"),
	}
}

// Initialize checks the token format and validates it upstream
func (m *AuthenticationManager) Initialize(ctx context.Context) error {
	token := strings.TrimSpace(m.cfg.Token)
	if token == "" {
		return apierr.Authentication(apierr.ReasonMissingToken, "API token not configured")
	}
	if !ValidateTokenFormat(token) {
		return apierr.Authentication(apierr.ReasonInvalidToken, "Token format is invalid")
	}

	validator := NewTokenValidator(token, m.cfg.BaseURL, m.cfg.Timeout, m.clock)

	m.mu.Lock()
	m.validator = validator
	m.mu.Unlock()

	valid, err := validator.Validate(ctx, false)
	if err != nil {
		return err
	}
	if !valid {
		return apierr.Authentication(apierr.ReasonInvalidToken, "")
	}

	m.mu.Lock()
	m.authenticated = true
	m.mu.Unlock()

	m.logger.Info("Authentication initialized", nil)
	return nil
}

// IsAuthenticated reports whether the last validation succeeded
func (m *AuthenticationManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticated
}

// AuthHeaders returns the headers for an upstream request
func (m *AuthenticationManager) AuthHeaders() (http.Header, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.authenticated || m.validator == nil {
		return nil, apierr.Authentication(apierr.ReasonNone, "Not authenticated. Call Initialize first.")
	}
	return m.validator.AuthHeaders(), nil
}

// Refresh revalidates the token, bypassing the cache. Only a rejected token
// clears the authenticated state; network and server failures leave it as
// it was.
func (m *AuthenticationManager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	validator := m.validator
	m.mu.RUnlock()

	if validator == nil {
		return apierr.Authentication(apierr.ReasonNone, "Authentication not initialized")
	}

	valid, err := validator.Validate(ctx, true)
	if err == nil && !valid {
		err = apierr.Authentication(apierr.ReasonInvalidToken, "Token validation failed")
	}

	switch {
	case err == nil:
		m.setAuthenticated(true)
	case tokenRejected(err):
		m.setAuthenticated(false)
	}

	if err != nil {
		m.logger.Warn("Token revalidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return err
}

// EnsureAuthenticated returns nil when authenticated. Otherwise it
// revalidates the token, at most once per reauthInterval, and returns the
// outcome of the latest attempt.
func (m *AuthenticationManager) EnsureAuthenticated(ctx context.Context) error {
	if m.IsAuthenticated() {
		return nil
	}

	m.recoverMu.Lock()
	defer m.recoverMu.Unlock()

	if m.IsAuthenticated() {
		return nil
	}
	now := m.clock.Now()
	if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < reauthInterval {
		if m.lastErr != nil {
			return m.lastErr
		}
		return apierr.Authentication(apierr.ReasonNone, "Not authenticated. Call Initialize first.")
	}

	m.lastAttempt = now
	m.lastErr = m.Refresh(ctx)
	if m.lastErr == nil {
		m.logger.Info("Authentication recovered", nil)
	}
	return m.lastErr
}

func (m *AuthenticationManager) setAuthenticated(v bool) {
	m.mu.Lock()
	m.authenticated = v
	m.mu.Unlock()
}

// tokenRejected reports whether err says the token itself is bad, as opposed
// to the upstream being unreachable or failing
func tokenRejected(err error) bool {
	return errors.Is(err, apierr.ErrInvalidToken) || errors.Is(err, apierr.ErrTokenExpired)
}

// HealthCheck reports the authentication state, revalidating through the
// cache when authenticated
func (m *AuthenticationManager) HealthCheck(ctx context.Context) AuthHealth {
	m.mu.RLock()
	validator := m.validator
	authenticated := m.authenticated
	m.mu.RUnlock()

	result := AuthHealth{
		Authenticated:   authenticated,
		TokenConfigured: strings.TrimSpace(m.cfg.Token) != "",
		Timestamp:       m.clock.Now().UTC(),
	}
	if !authenticated || validator == nil {
		return result
	}

	valid, err := validator.Validate(ctx, false)
	if err != nil {
		result.Error = err.Error()
		if tokenRejected(err) {
			m.setAuthenticated(false)
			result.Authenticated = false
		}
		return result
	}

	result.TokenValid = &valid
	if !valid {
		m.setAuthenticated(false)
		result.Authenticated = false
	}
	return result
}
