package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/executor"
)

// HandoffFailText is spoken when a transfer could not complete and the
// current agent keeps the conversation.
const HandoffFailText = "I wasn't able to transfer you just now, but I can keep helping you here."

// errWorkerDetached reports an enqueue that lost the race with detach.
// The caller re-resolves the session's worker and tries again.
var errWorkerDetached = errors.New("session worker detached")

// sessionWorker consumes one session's events in order.
type sessionWorker struct {
	sessionID string

	// mu orders enqueue against close so senders never hit a closed
	// channel. Only the fields below it are shared; state and spoken
	// belong to the worker goroutine.
	mu     sync.Mutex
	closed bool
	events chan domain.Envelope

	state *domain.SessionState
	// spoken counts transcript messages already emitted, so restored
	// history is not re-spoken.
	spoken int
}

func newSessionWorker(sessionID string, queueSize int) *sessionWorker {
	return &sessionWorker{
		sessionID: sessionID,
		events:    make(chan domain.Envelope, queueSize),
	}
}

// enqueue hands env to the worker goroutine without blocking. A closed
// worker refuses delivery with errWorkerDetached; a full queue with
// ErrQueueBusy.
func (w *sessionWorker) enqueue(env domain.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWorkerDetached
	}
	select {
	case w.events <- env:
		return nil
	default:
		return ErrQueueBusy
	}
}

func (w *sessionWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.events)
}

func (w *sessionWorker) loop(r *Runtime) {
	for env := range w.events {
		w.handle(r, env)
	}
}

func (w *sessionWorker) handle(r *Runtime, env domain.Envelope) {
	ctx := r.baseCtx
	switch env.Type {
	case domain.WireSessionInit:
		w.handleInit(ctx, r, env)
	case domain.WireUtterance:
		w.handleUtterance(ctx, r, env)
	case domain.WireRelease:
		w.handleRelease(r)
	default:
		r.logger.Warn("unhandled envelope type", "session", w.sessionID, "type", env.Type)
	}
}

// handleInit either restores a handed-over session from its snapshot or
// starts a fresh one on the agent's workflow. Both paths end with a
// session_ack.
func (w *sessionWorker) handleInit(ctx context.Context, r *Runtime, env domain.Envelope) {
	if env.Context != nil {
		state := env.Context.Restore(w.sessionID)
		if err := r.registry.SaveSession(ctx, state); err != nil {
			r.logger.Error("failed to persist restored session", "session", w.sessionID, "err", err)
			w.sendError(ctx, r, "restore failed")
			return
		}
		w.state = state
		w.spoken = len(state.Messages)
		r.logger.Info("session restored from handoff",
			"session", w.sessionID,
			"from", env.FromAgent,
			"node", state.CurrentNodeID,
		)
		w.ack(ctx, r)
		return
	}

	state, _, err := r.executor.Start(ctx, w.sessionID, r.config.WorkflowRef)
	if err != nil {
		r.logger.Error("failed to start session workflow", "session", w.sessionID, "err", err)
		w.sendError(ctx, r, "session start failed")
		return
	}
	if err := r.registry.SetOwner(ctx, w.sessionID, r.config.AgentID, 0); err != nil {
		r.logger.Error("failed to claim fresh session", "session", w.sessionID, "err", err)
		w.sendError(ctx, r, "session claim failed")
		return
	}
	if err := r.registry.SaveSession(ctx, state); err != nil {
		r.logger.Error("failed to persist fresh session", "session", w.sessionID, "err", err)
	}
	w.state = state
	w.ack(ctx, r)
	w.speakNew(ctx, r)
}

// handleUtterance feeds one finalized user input through the executor and
// speaks whatever the workflow produced. Executor failures surface as a
// fallback utterance; the session stays alive.
func (w *sessionWorker) handleUtterance(ctx context.Context, r *Runtime, env domain.Envelope) {
	if w.state == nil {
		state, err := r.registry.LoadSession(ctx, w.sessionID)
		if err != nil {
			r.logger.Error("no state for utterance", "session", w.sessionID, "err", err)
			w.sendError(ctx, r, "unknown session")
			return
		}
		w.state = state
		w.spoken = len(state.Messages)
	}

	res, err := r.executor.Resume(ctx, w.state, executor.Utterance{
		MessageID: env.MessageID,
		Text:      env.Text,
	})
	if err != nil {
		r.logger.Error("workflow step failed", "session", w.sessionID, "node", w.state.CurrentNodeID, "err", err)
		if saveErr := r.registry.SaveSession(ctx, w.state); saveErr != nil {
			r.logger.Error("failed to persist session after error", "session", w.sessionID, "err", saveErr)
		}
		r.say(ctx, w.sessionID, r.config.FallbackText)
		return
	}

	if err := r.registry.SaveSession(ctx, w.state); err != nil {
		r.logger.Error("failed to persist session", "session", w.sessionID, "err", err)
	}
	w.speakNew(ctx, r)

	if w.maybeHandoff(ctx, r) {
		return
	}

	if res.Terminated && len(w.state.Frames) == 0 {
		if err := r.registry.DeleteSession(ctx, w.sessionID); err != nil {
			r.logger.Warn("failed to delete terminated session", "session", w.sessionID, "err", err)
		}
		r.detach(w.sessionID)
	}
}

// handleRelease detaches the speech session after the routing engine
// confirmed another agent acked the handoff.
func (w *sessionWorker) handleRelease(r *Runtime) {
	r.logger.Info("released session to new owner", "session", w.sessionID, "agent", r.config.AgentID)
	w.state = nil
	r.detach(w.sessionID)
}

// maybeHandoff issues a handoff when the workflow routed the conversation
// to an intent this agent maps to another agent. Returns true when the
// session was successfully transferred.
func (w *sessionWorker) maybeHandoff(ctx context.Context, r *Runtime) bool {
	intent, _ := w.state.Context[domain.KeyUserIntent].(string)
	if intent == "" {
		return false
	}
	target, ok := r.config.Routes[intent]
	if !ok || target == r.config.AgentID {
		return false
	}

	// Consume the intent so a failed transfer does not loop on the next
	// utterance, and stamp the origin for the receiving agent.
	w.state.SetContext(domain.KeyUserIntent, "")
	w.state.SetContext(domain.KeyLastAgent, r.config.AgentID)
	if err := r.registry.SaveSession(ctx, w.state); err != nil {
		r.logger.Error("failed to persist session before handoff", "session", w.sessionID, "err", err)
	}

	req := domain.HandoffRequest{
		ID:          uuid.NewString(),
		SessionID:   w.sessionID,
		FromAgentID: r.config.AgentID,
		ToAgentID:   target,
		Reason:      "intent: " + intent,
		Snapshot:    w.state.Snapshot(),
		RequestedAt: time.Now().UTC(),
	}

	out := r.router.Execute(ctx, req)
	if out.Phase != domain.PhaseAcked {
		r.logger.Warn("handoff failed, continuing conversation",
			"session", w.sessionID,
			"target", target,
			"err", out.Err,
		)
		r.say(ctx, w.sessionID, HandoffFailText)
		return false
	}
	// The release event arrives separately, after the target's ack.
	return true
}

func (w *sessionWorker) ack(ctx context.Context, r *Runtime) {
	err := r.emitter.Send(ctx, domain.Envelope{
		Type:      domain.WireSessionAck,
		SessionID: w.sessionID,
		FromAgent: r.config.AgentID,
	})
	if err != nil {
		r.logger.Warn("failed to send session_ack", "session", w.sessionID, "err", err)
	}
}

// speakNew emits transcript messages appended since the last flush.
func (w *sessionWorker) speakNew(ctx context.Context, r *Runtime) {
	for _, msg := range w.state.Messages[w.spoken:] {
		if msg.Role == "assistant" {
			r.say(ctx, w.sessionID, msg.Text)
		}
	}
	w.spoken = len(w.state.Messages)
}

func (w *sessionWorker) sendError(ctx context.Context, r *Runtime, reason string) {
	err := r.emitter.Send(ctx, domain.Envelope{
		Type:      domain.WireError,
		SessionID: w.sessionID,
		FromAgent: r.config.AgentID,
		Reason:    reason,
	})
	if err != nil {
		r.logger.Warn("failed to send error envelope", "session", w.sessionID, "err", err)
	}
}
