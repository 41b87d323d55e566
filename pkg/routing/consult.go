package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
)

type cachedConsult struct {
	result domain.ConsultationResult
	at     time.Time
}

func consultKey(c domain.Consultation) string {
	return c.SessionID + "\x00" + c.ToAgent + "\x00" + c.Question
}

// Consult forwards a question to another agent without moving session
// ownership. The round trip is boxed by ConsultTimeout; a timeout is an
// error the asking agent must handle in-conversation. Identical questions
// for the same session are answered from a short-lived cache, so an agent
// re-asking within the TTL does not generate duplicate traffic.
func (e *Engine) Consult(ctx context.Context, c domain.Consultation) (domain.ConsultationResult, error) {
	key := consultKey(c)

	e.consultMu.Lock()
	if cached, ok := e.consultCache[key]; ok {
		if e.now().Sub(cached.at) < e.config.ConsultTTL {
			e.consultMu.Unlock()
			return cached.result, nil
		}
		delete(e.consultCache, key)
	}
	e.consultMu.Unlock()

	target, err := e.registry.Agent(ctx, c.ToAgent)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return domain.ConsultationResult{}, fmt.Errorf("consultation target %q not registered", c.ToAgent)
		}
		return domain.ConsultationResult{}, err
	}
	if !target.Routable() {
		return domain.ConsultationResult{}, fmt.Errorf("consultation target %q is not healthy", c.ToAgent)
	}

	boxCtx, cancel := context.WithTimeout(ctx, e.config.ConsultTimeout)
	defer cancel()

	result, err := e.client.Consult(boxCtx, target, c)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ConsultationResult{}, fmt.Errorf("consultation with %q timed out: %w", c.ToAgent, err)
		}
		return domain.ConsultationResult{}, err
	}
	if result.AnsweredAt.IsZero() {
		result.AnsweredAt = e.now()
	}

	e.consultMu.Lock()
	e.consultCache[key] = cachedConsult{result: result, at: e.now()}
	e.consultMu.Unlock()

	return result, nil
}
