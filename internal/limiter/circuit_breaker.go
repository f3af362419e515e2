package limiter

import (
	"fmt"
	"time"

	"github.com/pdmimpulse/raindrop-mcp/internal/clock"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// CircuitState is the state of a CircuitBreaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen

	// StateDisabled is reported when no breaker is attached
	StateDisabled
)

// String returns the lowercase name used in status output
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear by name in JSON
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText
func (s *CircuitState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	case "disabled":
		*s = StateDisabled
	default:
		return fmt.Errorf("unknown circuit state %q", b)
	}
	return nil
}

// CircuitBreakerConfig holds breaker thresholds
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures in closed state open the circuit
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a probe
	RecoveryTimeout time.Duration

	// SuccessThreshold consecutive probe successes close the circuit
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns 5 failures, 60s recovery, 2 successes
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker is a closed/open/half-open failure gate.
//
// CanExecute is the only query; RecordSuccess and RecordFailure are the only
// events. Like TokenBucket it has no lock of its own.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state        CircuitState
	failureCount int
	successCount int
	lastFailure  time.Time

	clock  clock.Clock
	logger *utils.Logger
}

// NewCircuitBreaker creates a closed breaker. Non-positive thresholds fall
// back to the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig, clk clock.Clock, logger *utils.Logger) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		clock:  clk,
		logger: logger,
	}
}

// CanExecute reports whether a call may proceed. An open circuit whose
// recovery timeout has elapsed moves to half-open and admits the caller as
// the probe.
func (cb *CircuitBreaker) CanExecute() bool {
	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			cb.logger.Info("Circuit breaker half-open", nil)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess feeds a successful call into the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.Info("Circuit breaker closed", nil)
		}
	}
}

// RecordFailure feeds a failed call into the breaker and reports whether it
// caused a transition into the open state
func (cb *CircuitBreaker) RecordFailure() bool {
	now := cb.clock.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.open(now)
			return true
		}
	case StateHalfOpen:
		cb.failureCount++
		cb.open(now)
		return true
	case StateOpen:
		// A call admitted before the circuit opened failed late; restart the cooldown.
		cb.failureCount++
		cb.lastFailure = now
	}
	return false
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.state = StateOpen
	cb.lastFailure = now
	cb.successCount = 0
	cb.logger.Warn("Circuit breaker opened", map[string]interface{}{
		"failure_count":    cb.failureCount,
		"recovery_timeout": cb.config.RecoveryTimeout.String(),
	})
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	return cb.state
}

// FailureCount returns the consecutive failure count
func (cb *CircuitBreaker) FailureCount() int {
	return cb.failureCount
}

// SuccessCount returns the probe success count in half-open state
func (cb *CircuitBreaker) SuccessCount() int {
	return cb.successCount
}
