package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/internal/metrics"
	"github.com/relaydesk/switchboard/pkg/agent"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/registry"
	"github.com/relaydesk/switchboard/pkg/routing"
)

// Server hosts the gateway's HTTP and websocket surface.
type Server struct {
	registry *registry.Registry
	engine   *routing.Engine
	client   *agent.LocalClient
	hub      *Hub
	logger   *slog.Logger

	// defaultAgentID receives fresh sessions (normally the triage agent).
	defaultAgentID string

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics wires the Prometheus bundle and its gatherer for /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewServer creates the gateway server. defaultAgentID names the agent
// that receives fresh sessions.
func NewServer(reg *registry.Registry, engine *routing.Engine, client *agent.LocalClient, hub *Hub, defaultAgentID string, opts ...ServerOption) *Server {
	s := &Server{
		registry:       reg,
		engine:         engine,
		client:         client,
		hub:            hub,
		logger:         logging.NewNop(),
		defaultAgentID: defaultAgentID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		hub.onBind = s.metrics.ActiveSessions.Inc
		hub.onUnbind = s.metrics.ActiveSessions.Dec
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/agents/register", s.handleRegister)
	r.Post("/agents/heartbeat", s.handleHeartbeat)
	r.Get("/agents", s.handleListAgents)

	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{sessionID}", s.handleGetSession)

	r.Post("/handoff", s.handleHandoff)
	r.Post("/consult", s.handleConsult)

	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.Agents(r.Context())
	if err != nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	sessions, err := s.registry.Sessions(r.Context())
	if err != nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"agents":   len(agents),
		"sessions": len(sessions),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var record domain.AgentRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.registry.RegisterAgent(r.Context(), record); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"agentId": record.AgentID})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AgentID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.registry.Heartbeat(r.Context(), body.AgentID); err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.Agents(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.Sessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	state, err := s.registry.LoadSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleHandoff runs a handoff synchronously and reports the outcome.
// Agents in other processes use this instead of calling the engine
// directly.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	var req domain.HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out := s.engine.Execute(r.Context(), req)

	resp := map[string]any{
		"phase":    out.Phase,
		"target":   out.TargetAgentID,
		"attempts": out.Attempts,
	}
	status := http.StatusOK
	if out.Phase == domain.PhaseFailed {
		status = http.StatusConflict
		if out.Err != nil {
			resp["error"] = out.Err.Error()
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	var q domain.Consultation
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.engine.Consult(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
