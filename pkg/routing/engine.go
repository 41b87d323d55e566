package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/registry"
)

// AgentClient delivers wire messages to agent processes. The gateway
// provides an HTTP implementation; tests provide fakes.
type AgentClient interface {
	// InitSession sends session_init with the context snapshot and blocks
	// until the agent acknowledges or ctx expires.
	InitSession(ctx context.Context, agent domain.AgentRecord, sessionID string, snapshot domain.ContextSnapshot) error

	// Release tells the former owner to drop its exclusive resources
	// (detach the speech session). Only ever called after an ack.
	Release(ctx context.Context, agent domain.AgentRecord, sessionID string) error

	// Consult forwards a consultation question and returns the answer.
	Consult(ctx context.Context, agent domain.AgentRecord, c domain.Consultation) (domain.ConsultationResult, error)
}

// Observer receives handoff outcomes for metrics. The zero Observer is a
// no-op.
type Observer interface {
	HandoffCompleted(outcome string, attempts int, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) HandoffCompleted(string, int, time.Duration) {}

// Config tunes the engine. Zero fields take defaults.
type Config struct {
	// AckTimeout bounds the wait for the target's session_ack. The whole
	// handoff budget is AckTimeout per attempt plus backoff.
	AckTimeout time.Duration
	// MaxAttempts bounds retries for transient failures (timeouts,
	// unavailable targets).
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// LoopWindow is how long a committed (from,to) pair blocks an exact
	// repeat.
	LoopWindow time.Duration
	// FallbackCapability selects the fallback agent (first healthy agent
	// declaring it) when the requested target is unavailable.
	FallbackCapability string
	// ConsultTimeout boxes a consultation round trip.
	ConsultTimeout time.Duration
	// ConsultTTL is how long a consultation answer is served from cache.
	ConsultTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.AckTimeout == 0 {
		c.AckTimeout = 500 * time.Millisecond
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 50 * time.Millisecond
	}
	if c.LoopWindow == 0 {
		c.LoopWindow = 60 * time.Second
	}
	if c.FallbackCapability == "" {
		c.FallbackCapability = "triage"
	}
	if c.ConsultTimeout == 0 {
		c.ConsultTimeout = 5 * time.Second
	}
	if c.ConsultTTL == 0 {
		c.ConsultTTL = 5 * time.Second
	}
	return c
}

// committedHandoff is one loop-history entry.
type committedHandoff struct {
	from string
	to   string
	at   time.Time
}

// Engine routes handoffs and consultations.
type Engine struct {
	registry *registry.Registry
	client   AgentClient
	config   Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	history map[string][]committedHandoff

	consultMu    sync.Mutex
	consultCache map[string]cachedConsult
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a routing engine over the registry and agent client.
func NewEngine(reg *registry.Registry, client AgentClient, config Config, opts ...Option) *Engine {
	e := &Engine{
		registry:     reg,
		client:       client,
		config:       config.withDefaults(),
		logger:       logging.NewNop(),
		observer:     nopObserver{},
		now:          time.Now,
		history:      make(map[string][]committedHandoff),
		consultCache: make(map[string]cachedConsult),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome reports how a handoff ended.
type Outcome struct {
	Phase domain.HandoffPhase
	// TargetAgentID is the agent that actually took the session; it may be
	// the fallback rather than the requested target.
	TargetAgentID string
	Attempts      int
	Err           error
}

// Execute runs one handoff to completion. A Failed outcome guarantees
// ownership remained with (or was restored to) the source agent; the
// caller surfaces a graceful in-conversation message instead of dropping
// the session.
func (e *Engine) Execute(ctx context.Context, req domain.HandoffRequest) Outcome {
	started := e.now()
	out := e.execute(ctx, req)
	e.observer.HandoffCompleted(string(out.Phase), out.Attempts, e.now().Sub(started))

	if out.Phase == domain.PhaseFailed {
		e.logger.Error("handoff failed",
			"session", req.SessionID,
			"from", req.FromAgentID,
			"to", req.ToAgentID,
			"attempts", out.Attempts,
			"err", out.Err,
		)
	} else {
		e.logger.Info("handoff acked",
			"session", req.SessionID,
			"from", req.FromAgentID,
			"to", out.TargetAgentID,
			"attempts", out.Attempts,
		)
	}
	return out
}

func (e *Engine) execute(ctx context.Context, req domain.HandoffRequest) Outcome {
	attempt := req
	var lastErr error

	for attempt.Attempt < e.config.MaxAttempts {
		if attempt.Attempt > 0 {
			delay := e.config.BackoffBase << (attempt.Attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Outcome{Phase: domain.PhaseFailed, Attempts: attempt.Attempt, Err: ctx.Err()}
			case <-timer.C:
			}
		}
		attempt = attempt.Retry()

		target, ownerVersion, err := e.validate(ctx, attempt)
		if err != nil {
			var validation *domain.HandoffValidationError
			if errors.As(err, &validation) && retryableRejection(validation.Reason) {
				// Target unavailable: try the configured fallback before
				// burning a retry.
				if fb, fbVersion, fbErr := e.fallback(ctx, attempt); fbErr == nil {
					target, ownerVersion = fb, fbVersion
				} else {
					lastErr = err
					continue
				}
			} else {
				return Outcome{Phase: domain.PhaseFailed, Attempts: attempt.Attempt, Err: err}
			}
		}

		if err := e.commit(ctx, attempt, target, ownerVersion); err != nil {
			lastErr = err
			var conflict *domain.SessionConflictError
			if errors.As(err, &conflict) {
				// Lost a concurrent race; the session moved under us.
				return Outcome{Phase: domain.PhaseFailed, Attempts: attempt.Attempt, Err: err}
			}
			continue
		}

		e.recordHandoff(attempt.SessionID, attempt.FromAgentID, target.AgentID)
		e.releaseSource(ctx, attempt)
		return Outcome{Phase: domain.PhaseAcked, TargetAgentID: target.AgentID, Attempts: attempt.Attempt}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("handoff exhausted %d attempts", e.config.MaxAttempts)
	}
	return Outcome{Phase: domain.PhaseFailed, Attempts: attempt.Attempt, Err: lastErr}
}

// retryableRejection reports whether a validation failure may clear up on
// retry or fallback. Loop detection and stale ownership never do.
func retryableRejection(reason string) bool {
	return reason == domain.RejectTargetUnknown || reason == domain.RejectTargetUnhealthy
}

// validate is the Validating phase: the target must be registered and
// healthy, the requester must still own the session, and the pair must
// not repeat a recent handoff.
func (e *Engine) validate(ctx context.Context, req domain.HandoffRequest) (domain.AgentRecord, int64, error) {
	if req.ToAgentID == req.FromAgentID {
		return domain.AgentRecord{}, 0, &domain.HandoffValidationError{SessionID: req.SessionID, Reason: domain.RejectSelfHandoff}
	}

	owner, ownerVersion, err := e.registry.Owner(ctx, req.SessionID)
	if err != nil {
		return domain.AgentRecord{}, 0, fmt.Errorf("failed to read session owner: %w", err)
	}
	if owner != req.FromAgentID {
		return domain.AgentRecord{}, 0, &domain.HandoffValidationError{SessionID: req.SessionID, Reason: domain.RejectStaleOwner}
	}

	if e.isLoop(req.SessionID, req.FromAgentID, req.ToAgentID) {
		return domain.AgentRecord{}, 0, &domain.HandoffValidationError{SessionID: req.SessionID, Reason: domain.RejectLoopDetected}
	}

	target, err := e.registry.Agent(ctx, req.ToAgentID)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return domain.AgentRecord{}, 0, &domain.HandoffValidationError{SessionID: req.SessionID, Reason: domain.RejectTargetUnknown}
		}
		return domain.AgentRecord{}, 0, err
	}
	if !target.Routable() {
		return domain.AgentRecord{}, 0, &domain.HandoffValidationError{SessionID: req.SessionID, Reason: domain.RejectTargetUnhealthy}
	}

	return target, ownerVersion, nil
}

// fallback picks the first healthy agent with the fallback capability
// that is neither party of the failed request and passes the same
// validation gates.
func (e *Engine) fallback(ctx context.Context, req domain.HandoffRequest) (domain.AgentRecord, int64, error) {
	agents, err := e.registry.Agents(ctx)
	if err != nil {
		return domain.AgentRecord{}, 0, err
	}

	_, ownerVersion, err := e.registry.Owner(ctx, req.SessionID)
	if err != nil {
		return domain.AgentRecord{}, 0, err
	}

	for _, agent := range agents {
		if agent.AgentID == req.FromAgentID || agent.AgentID == req.ToAgentID {
			continue
		}
		if !agent.Routable() || !agent.HasCapability(e.config.FallbackCapability) {
			continue
		}
		if e.isLoop(req.SessionID, req.FromAgentID, agent.AgentID) {
			continue
		}
		e.logger.Warn("handoff target unavailable, using fallback",
			"session", req.SessionID,
			"requested", req.ToAgentID,
			"fallback", agent.AgentID,
		)
		return agent, ownerVersion, nil
	}
	return domain.AgentRecord{}, 0, fmt.Errorf("no fallback agent with capability %q available", e.config.FallbackCapability)
}

// commit is the Committing phase: swap ownership, deliver session_init,
// await the ack. On any failure after the swap, ownership is CAS'd back
// to the source so the user keeps a serving agent.
func (e *Engine) commit(ctx context.Context, req domain.HandoffRequest, target domain.AgentRecord, ownerVersion int64) error {
	if err := e.registry.SetOwner(ctx, req.SessionID, target.AgentID, ownerVersion); err != nil {
		return err
	}

	// Durability: the snapshot must be in the backing store before the
	// target confirms, so a target crash right after ack cannot lose it.
	if err := e.registry.SaveSession(ctx, req.Snapshot.Restore(req.SessionID)); err != nil {
		e.rollback(ctx, req, ownerVersion+1)
		return fmt.Errorf("failed to persist handoff snapshot: %w", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, e.config.AckTimeout)
	defer cancel()

	if err := e.client.InitSession(ackCtx, target, req.SessionID, req.Snapshot); err != nil {
		e.rollback(ctx, req, ownerVersion+1)
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.HandoffTimeoutError{SessionID: req.SessionID, ToAgentID: target.AgentID, Attempt: req.Attempt}
		}
		return fmt.Errorf("session_init delivery failed: %w", err)
	}
	return nil
}

// rollback restores ownership to the source agent after a failed commit.
func (e *Engine) rollback(ctx context.Context, req domain.HandoffRequest, currentVersion int64) {
	if err := e.registry.SetOwner(ctx, req.SessionID, req.FromAgentID, currentVersion); err != nil {
		// The CAS can only fail if someone else won the session meanwhile,
		// in which case the session still has a live owner.
		e.logger.Warn("handoff rollback lost a concurrent race",
			"session", req.SessionID,
			"err", err,
		)
	}
}

// releaseSource tells the former owner to detach. Strictly ordered after
// the ack; a failure here is logged, not fatal, because the lease TTL on
// the source's resources reclaims them anyway.
func (e *Engine) releaseSource(ctx context.Context, req domain.HandoffRequest) {
	source, err := e.registry.Agent(ctx, req.FromAgentID)
	if err != nil {
		e.logger.Warn("cannot notify source agent of release", "agent", req.FromAgentID, "err", err)
		return
	}
	if err := e.client.Release(ctx, source, req.SessionID); err != nil {
		e.logger.Warn("source release notification failed", "agent", req.FromAgentID, "err", err)
	}
}

// isLoop reports whether the exact (from,to) pair already committed
// within the loop window. Conservative policy: an exact repeat is
// rejected even if the conversation gathered new information since.
func (e *Engine) isLoop(sessionID, from, to string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.config.LoopWindow)
	entries := e.history[sessionID]

	// Prune while scanning.
	kept := entries[:0]
	loop := false
	for _, h := range entries {
		if h.at.Before(cutoff) {
			continue
		}
		kept = append(kept, h)
		if h.from == from && h.to == to {
			loop = true
		}
	}
	e.history[sessionID] = kept
	return loop
}

func (e *Engine) recordHandoff(sessionID, from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[sessionID] = append(e.history[sessionID], committedHandoff{from: from, to: to, at: e.now()})
}
