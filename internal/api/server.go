// Package api provides the HTTP server for the router.
// It exposes the chat-completion endpoint plus the dashboard surface:
// status, recent decisions, SLO report, and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/internal/router"
)

// Server is the router HTTP API server.
type Server struct {
	router         *router.Router
	catalog        *catalog.Client
	slo            observability.SLOConfig
	log            *logrus.Entry
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(r *router.Router, cat *catalog.Client, slo observability.SLOConfig, log *logrus.Entry) *Server {
	return &Server{router: r, catalog: cat, slo: slo, log: log}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", s.handleStatus)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleChatCompletions)
	})

	r.Route("/api/router", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/slo", s.handleSLO)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleChatCompletions(w http.ResponseWriter, req *http.Request) {
	var chat domain.ChatRequest
	if err := json.NewDecoder(req.Body).Decode(&chat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if len(chat.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", "")
		return
	}

	resp, dec, err := s.router.Route(req.Context(), chat, req.Header)
	if err != nil {
		status, msg := classifyRouteError(err)
		writeError(w, status, msg, dec.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       dec.ID,
		"model":    resp.Model,
		"provider": resp.Provider,
		"choices": []map[string]any{
			{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": resp.Content},
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "switchboard is running",
		"triage":  s.router.Classifier().Stats(),
		"catalog": s.catalog.Stats(),
		"health":  s.router.Engine().Health().States(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"window":         s.router.Recorder().Window(),
		"triage":         s.router.Classifier().Stats(),
		"live_cooldowns": s.router.Engine().Cooldowns().LiveCount(),
		"health":         s.router.Engine().Health().States(),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Recorder().Recent(100))
}

func (s *Server) handleSLO(w http.ResponseWriter, req *http.Request) {
	report := observability.EvaluateSLO(s.slo, s.router.Recorder().Window())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

// classifyRouteError maps pipeline errors to HTTP status codes. Upstream
// provider errors pass through verbatim where possible.
func classifyRouteError(err error) (int, string) {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		status := pe.Status
		if status == 0 {
			status = http.StatusBadGateway
		}
		msg := pe.Body
		if msg == "" {
			msg = pe.Error()
		}
		return status, msg
	}
	switch {
	case errors.Is(err, domain.ErrAuthMissing), errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrModelNotAllowed):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNoCandidates), errors.Is(err, domain.ErrFallbacksExhausted):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, decisionID string) {
	body := map[string]any{
		"error": map[string]string{"message": msg},
	}
	if decisionID != "" {
		body["decision_id"] = decisionID
	}
	writeJSON(w, status, body)
}
