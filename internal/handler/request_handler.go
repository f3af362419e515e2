// Package handler provides the HTTP status surface of the bookmark server.
//
// The stdio protocol stream carries the tools; this listener only exposes
// operational state:
// 1. GET /health reports liveness
// 2. GET /status returns the rate limiter snapshot (tokens, queue lanes,
//    circuit breaker, counters) consumed by the terminal dashboard
// 3. GET /health/upstream runs a low priority check against Raindrop.io
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// StatusSource returns the rate limiter snapshot
type StatusSource interface {
	Status(ctx context.Context) limiter.Status
}

// UpstreamChecker probes the Raindrop.io API
type UpstreamChecker interface {
	HealthCheck(ctx context.Context) raindrop.HealthInfo
}

// StatusHandler serves the status endpoints
type StatusHandler struct {
	status   StatusSource
	upstream UpstreamChecker
	logger   *utils.Logger

	// UpstreamTimeout bounds /health/upstream
	UpstreamTimeout time.Duration

	now func() time.Time
}

// NewStatusHandler creates a handler. upstream may be nil, in which case
// /health/upstream is not routed.
func NewStatusHandler(status StatusSource, upstream UpstreamChecker, logger *utils.Logger) *StatusHandler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &StatusHandler{
		status:          status,
		upstream:        upstream,
		logger:          logger.Component("status"),
		UpstreamTimeout: 30 * time.Second,
		now:             time.Now,
	}
}

// Routes returns the chi router for the status surface
func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	if h.upstream != nil {
		r.Get("/health/upstream", h.HandleUpstream)
	}
	return r
}

func (h *StatusHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := utils.NewRequestID()
		ctx := utils.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		h.logger.Debug("Status request served", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestID,
		})
	})
}

// HandleHealth reports that the process is up
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// HandleStatus returns the rate limiter snapshot
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Status(r.Context()))
}

// HandleUpstream runs the client health check. A failing API answers 503.
func (h *StatusHandler) HandleUpstream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.UpstreamTimeout)
	defer cancel()

	info := h.upstream.HealthCheck(ctx)
	code := http.StatusOK
	if info.APIStatus != "connected" {
		code = http.StatusServiceUnavailable
		h.logger.Warn("Upstream health check failed", map[string]interface{}{
			"api_error":  info.APIError,
			"request_id": utils.RequestID(r.Context()),
		})
	}
	h.writeJSON(w, code, info)
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The status line is already written, only log.
		h.logger.Error(err, "Failed to encode response", nil)
	}
}
