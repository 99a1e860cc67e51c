// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/coordinator"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/request"
	"github.com/agourakis82/beagle-sub000/internal/review"
	"github.com/agourakis82/beagle-sub000/internal/router"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxPromptLength bounds prompts, queries and drafts.
	MaxPromptLength = 100000

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the API version reported by /health.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the router, coordinator and review pipeline over HTTP.
type Server struct {
	app     *app.App
	addr    string
	router  *mux.Router
	handler http.Handler
	server  *http.Server
	logger  *zap.Logger
	started time.Time
}

// New builds the route table and middleware chain. Authentication is on
// when cfg.AuthToken is set; rate limiting when cfg.RateLimitRPS is positive.
func New(a *app.App, cfg config.ServerConfig, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{
		app:     a,
		addr:    cfg.Addr,
		router:  mux.NewRouter(),
		logger:  logger,
		started: time.Now(),
	}
	s.setupRoutes()

	var limiter *RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	auth := &AuthConfig{
		Enabled:     cfg.AuthToken != "",
		BearerToken: cfg.AuthToken,
		Exempt:      map[string]bool{"/health": true},
	}

	s.handler = Chain(
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(logger),
		RateLimitMiddleware(limiter, logger),
		AuthMiddleware(auth, logger),
	)(s.router)
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.app.Metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/runs/{run_id}/usage", s.handleUsage).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/route", s.handleRoute).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/orchestrate", s.handleOrchestrate).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/review", s.handleReview).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// RouteRequest is the body of POST /v1/route.
type RouteRequest struct {
	RunID      string             `json:"run_id,omitempty"`
	Prompt     string             `json:"prompt"`
	Descriptor request.Descriptor `json:"descriptor"`
}

// RouteResponse is the answer of POST /v1/route.
type RouteResponse struct {
	RunID      string           `json:"run_id"`
	Text       string           `json:"text"`
	Tier       tier.Tier        `json:"tier"`
	TokensIn   int              `json:"tokens_in"`
	TokensOut  int              `json:"tokens_out"`
	Estimated  bool             `json:"estimated,omitempty"`
	LatencyMs  int64            `json:"latency_ms"`
	Downgraded bool             `json:"downgraded"`
	Attempts   []router.Attempt `json:"attempts"`
}

// OrchestrateRequest is the body of POST /v1/orchestrate.
type OrchestrateRequest struct {
	RunID       string   `json:"run_id,omitempty"`
	Query       string   `json:"query"`
	Specialists []string `json:"specialists,omitempty"`
}

// ReviewRequest is the body of POST /v1/review.
type ReviewRequest struct {
	RunID          string `json:"run_id,omitempty"`
	Draft          string `json:"draft"`
	ContextSummary string `json:"context_summary,omitempty"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	policy := s.app.Router.Policy()
	body := map[string]any{
		"status":             "ok",
		"version":            Version,
		"profile":            s.app.Config.Profile,
		"escalation_enabled": policy.EnableEscalation,
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
	}
	if n, err := s.app.Ledger.DayCount(); err == nil {
		body["escalation_calls_today"] = n
		body["escalation_calls_per_day"] = policy.EscalationMaxCallsPerDay
	} else {
		body["status"] = "degraded"
		body["day_counter_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.app.Router.Statistics()
	writeJSON(w, http.StatusOK, map[string]any{
		"statistics":   stats,
		"distribution": stats.Distribution(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	report, ok, err := s.app.Usage(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", runID))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !checkText(w, "prompt", req.Prompt) {
		return
	}

	runID, res, err := s.app.Route(r.Context(), req.RunID, req.Prompt, req.Descriptor)
	resp := RouteResponse{
		RunID:      runID,
		Text:       res.Text,
		Tier:       res.Tier,
		TokensIn:   res.TokensIn,
		TokensOut:  res.TokensOut,
		Estimated:  res.Estimated,
		LatencyMs:  res.Latency.Milliseconds(),
		Downgraded: res.Downgraded,
		Attempts:   res.Attempts,
	}
	if err != nil {
		s.logger.Warn("route failed", zap.String("run_id", runID), zap.Error(err))
		writeJSON(w, statusFor(err), map[string]any{
			"error":    errorBody(statusFor(err), err.Error()),
			"run_id":   runID,
			"attempts": res.Attempts,
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req OrchestrateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !checkText(w, "query", req.Query) {
		return
	}

	res, err := s.app.Orchestrate(r.Context(), req.RunID, req.Query, req.Specialists)
	if err != nil {
		s.logger.Warn("orchestration failed", zap.String("run_id", res.RunID), zap.Error(err))
		writeJSON(w, statusFor(err), map[string]any{
			"error":  errorBody(statusFor(err), err.Error()),
			"result": partial(res),
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !checkText(w, "draft", req.Draft) {
		return
	}

	report, err := s.app.Review(r.Context(), req.RunID, review.Input{Draft: req.Draft, ContextSummary: req.ContextSummary})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body, answering 400 or 413 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return false
		}
		s.logger.Debug("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid request format")
		return false
	}
	return true
}

func checkText(w http.ResponseWriter, field, text string) bool {
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, field+" is required")
		return false
	}
	if len(text) > MaxPromptLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s exceeds maximum length of %d", field, MaxPromptLength))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, config.ErrConfiguration), errors.Is(err, review.ErrEmptyDraft), errors.Is(err, app.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, router.ErrAllTiersExhausted), errors.Is(err, coordinator.ErrAllAgentsFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// partial drops an empty result so failed runs without any answer do not
// return a zero-valued object.
func partial(res agent.OrchestrationResult) any {
	if res.Answer == "" && len(res.Failures) == 0 {
		return nil
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorBody(status int, message string) map[string]any {
	return map[string]any{
		"message": message,
		"code":    status,
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": errorBody(status, message)})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("server starting", zap.String("addr", s.addr), zap.String("version", Version))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}
