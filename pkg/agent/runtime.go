package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/executor"
	"github.com/relaydesk/switchboard/pkg/registry"
	"github.com/relaydesk/switchboard/pkg/routing"
)

// Router accepts handoff requests from this agent. In a single-process
// deployment it is the routing engine itself; across processes it is a
// gateway client.
type Router interface {
	Execute(ctx context.Context, req domain.HandoffRequest) routing.Outcome
}

// Emitter sends outbound envelopes (agent_say, session_ack, error) back
// through whatever transport delivered the inbound event.
type Emitter interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, env domain.Envelope) error

func (f EmitterFunc) Send(ctx context.Context, env domain.Envelope) error { return f(ctx, env) }

// ErrQueueBusy is returned by Deliver when a session's inbound queue is
// full. The caller should surface backpressure rather than buffer more.
var ErrQueueBusy = errors.New("session event queue is full")

// DefaultFallbackText is spoken when an internal failure surfaces
// mid-conversation.
const DefaultFallbackText = "I'm sorry, I ran into a problem just now. Could you say that again?"

// Config describes one agent instance.
type Config struct {
	AgentID      string
	URL          string
	Capabilities []string
	// WorkflowRef is the workflow this agent starts fresh sessions with.
	WorkflowRef string
	// Routes maps a routed intent (the userIntent context value) to the
	// agent that should take the session.
	Routes map[string]string
	// QueueSize bounds each session's inbound event queue. Default 32.
	QueueSize int
	// FallbackText overrides DefaultFallbackText.
	FallbackText string
	// Consult answers consultation questions from other agents using the
	// session's state. Agents without a handler decline consultations.
	Consult func(ctx context.Context, q domain.Consultation, state *domain.SessionState) (string, error)
}

// Runtime hosts the per-session workers for one agent.
type Runtime struct {
	config   Config
	executor *executor.Engine
	registry *registry.Registry
	router   Router
	emitter  Emitter
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[string]*sessionWorker
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// New creates a Runtime. Call Register before serving traffic and Close
// on shutdown.
func New(config Config, exec *executor.Engine, reg *registry.Registry, router Router, emitter Emitter, opts ...Option) *Runtime {
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}
	if config.FallbackText == "" {
		config.FallbackText = DefaultFallbackText
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		config:   config,
		executor: exec,
		registry: reg,
		router:   router,
		emitter:  emitter,
		logger:   logging.NewNop(),
		workers:  make(map[string]*sessionWorker),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the agent's identifier.
func (r *Runtime) ID() string { return r.config.AgentID }

// Register announces this agent to the directory.
func (r *Runtime) Register(ctx context.Context) error {
	return r.registry.RegisterAgent(ctx, domain.AgentRecord{
		AgentID:         r.config.AgentID,
		URL:             r.config.URL,
		Capabilities:    r.config.Capabilities,
		Health:          domain.HealthHealthy,
		LastHeartbeatAt: time.Now().UTC(),
	})
}

// RunHeartbeat sends liveness beats until ctx is canceled.
func (r *Runtime) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.registry.Heartbeat(ctx, r.config.AgentID); err != nil {
				r.logger.Warn("heartbeat failed", "agent", r.config.AgentID, "err", err)
			}
		}
	}
}

// Deliver enqueues an inbound envelope for its session. Events for the
// same session are processed in arrival order by one goroutine. Returns
// ErrQueueBusy when the session's queue is full.
func (r *Runtime) Deliver(_ context.Context, env domain.Envelope) error {
	if env.SessionID == "" {
		return fmt.Errorf("envelope missing session ID")
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return fmt.Errorf("agent runtime is shut down")
		}
		w, ok := r.workers[env.SessionID]
		if !ok {
			w = newSessionWorker(env.SessionID, r.config.QueueSize)
			r.workers[env.SessionID] = w
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				w.loop(r)
			}()
		}
		r.mu.Unlock()

		// The worker can detach (release, termination, shutdown) between
		// the lookup above and this enqueue; re-resolve and retry rather
		// than delivering to a dead worker.
		if err := w.enqueue(env); !errors.Is(err, errWorkerDetached) {
			return err
		}
	}
}

// Close stops all session workers and waits for in-flight events.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, w := range r.workers {
		w.close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

// Answer responds to a consultation from another agent without taking
// over the session.
func (r *Runtime) Answer(ctx context.Context, q domain.Consultation) (domain.ConsultationResult, error) {
	if r.config.Consult == nil {
		return domain.ConsultationResult{}, fmt.Errorf("agent %q does not accept consultations", r.config.AgentID)
	}
	state, err := r.registry.GetMemory(ctx, q.SessionID)
	if err != nil {
		return domain.ConsultationResult{}, fmt.Errorf("consultation for unknown session %q: %w", q.SessionID, err)
	}
	answer, err := r.config.Consult(ctx, q, state)
	if err != nil {
		return domain.ConsultationResult{}, err
	}
	return domain.ConsultationResult{Answer: answer, AnsweredAt: time.Now().UTC()}, nil
}

// detach removes a session's worker after a release or termination.
func (r *Runtime) detach(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[sessionID]; ok {
		delete(r.workers, sessionID)
		w.close()
	}
}

// say sends one assistant utterance to the user.
func (r *Runtime) say(ctx context.Context, sessionID, text string) {
	err := r.emitter.Send(ctx, domain.Envelope{
		Type:      domain.WireAgentSay,
		SessionID: sessionID,
		FromAgent: r.config.AgentID,
		Text:      text,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		r.logger.Warn("failed to send utterance", "session", sessionID, "err", err)
	}
}
