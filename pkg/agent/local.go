package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// LocalClient connects runtimes hosted in the same process to the routing
// engine. It implements routing.AgentClient by delivering wire envelopes
// straight into the target runtime's event queue and correlating the
// session_ack reply.
type LocalClient struct {
	sink Emitter

	mu       sync.Mutex
	runtimes map[string]*Runtime
	acks     map[string]chan struct{}
}

// NewLocalClient creates a client whose runtimes emit user-facing
// envelopes (agent_say, error) to sink.
func NewLocalClient(sink Emitter) *LocalClient {
	return &LocalClient{
		sink:     sink,
		runtimes: make(map[string]*Runtime),
		acks:     make(map[string]chan struct{}),
	}
}

// Attach registers a runtime so handoffs and utterances can reach it.
func (c *LocalClient) Attach(r *Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtimes[r.ID()] = r
}

// Runtime returns the attached runtime for an agent ID.
func (c *LocalClient) Runtime(agentID string) (*Runtime, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runtimes[agentID]
	return r, ok
}

// Emitter returns the Emitter runtimes must be constructed with. It
// intercepts session_ack envelopes for handoff correlation and forwards
// everything else to the user-facing sink.
func (c *LocalClient) Emitter() Emitter {
	return EmitterFunc(func(ctx context.Context, env domain.Envelope) error {
		if env.Type == domain.WireSessionAck {
			c.mu.Lock()
			ch, ok := c.acks[env.SessionID]
			if ok {
				delete(c.acks, env.SessionID)
			}
			c.mu.Unlock()
			if ok {
				close(ch)
			}
			return nil
		}
		return c.sink.Send(ctx, env)
	})
}

// InitSession implements routing.AgentClient. It blocks until the target
// runtime acks the restored session or ctx expires.
func (c *LocalClient) InitSession(ctx context.Context, agent domain.AgentRecord, sessionID string, snapshot domain.ContextSnapshot) error {
	rt, ok := c.Runtime(agent.AgentID)
	if !ok {
		return fmt.Errorf("agent %q is not attached", agent.AgentID)
	}

	ch := make(chan struct{})
	c.mu.Lock()
	c.acks[sessionID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, sessionID)
		c.mu.Unlock()
	}()

	err := rt.Deliver(ctx, domain.Envelope{
		Type:      domain.WireSessionInit,
		SessionID: sessionID,
		ToAgent:   agent.AgentID,
		Context:   &snapshot,
	})
	if err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release implements routing.AgentClient.
func (c *LocalClient) Release(ctx context.Context, agent domain.AgentRecord, sessionID string) error {
	rt, ok := c.Runtime(agent.AgentID)
	if !ok {
		return fmt.Errorf("agent %q is not attached", agent.AgentID)
	}
	return rt.Deliver(ctx, domain.Envelope{
		Type:      domain.WireRelease,
		SessionID: sessionID,
		ToAgent:   agent.AgentID,
	})
}

// Consult implements routing.AgentClient.
func (c *LocalClient) Consult(ctx context.Context, agent domain.AgentRecord, q domain.Consultation) (domain.ConsultationResult, error) {
	rt, ok := c.Runtime(agent.AgentID)
	if !ok {
		return domain.ConsultationResult{}, fmt.Errorf("agent %q is not attached", agent.AgentID)
	}
	return rt.Answer(ctx, q)
}
