package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaydesk/switchboard/pkg/agent"
	"github.com/relaydesk/switchboard/pkg/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts first-party clients; origin policy is enforced at
	// the edge proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS serves one user conversation. The client may pass an existing
// session ID to reconnect; otherwise a new session is created and handed
// to the default agent. All writes to the socket go through the hub so
// agent goroutines and this handler never write concurrently.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("session")
	fresh := false
	if sessionID == "" {
		sessionID = uuid.NewString()
		fresh = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.hub.Bind(sessionID, conn)
	defer func() {
		s.hub.Unbind(sessionID, conn)
		conn.Close()
	}()

	// Tell the client its session ID before anything else.
	if err := s.hub.Send(ctx, domain.Envelope{Type: domain.WireSessionInit, SessionID: sessionID}); err != nil {
		return
	}

	if !fresh {
		// Reconnect only counts if the session still exists: both the
		// owner record and the state itself. Session state expires on
		// idle while owner records can linger, and routing utterances to
		// an owner with no state wedges the session, so a stale owner is
		// cleared and the conversation restarts.
		_, _, ownerErr := s.registry.Owner(ctx, sessionID)
		switch {
		case errors.Is(ownerErr, domain.ErrSessionNotFound):
			fresh = true
		case ownerErr == nil:
			if _, err := s.registry.LoadSession(ctx, sessionID); errors.Is(err, domain.ErrSessionNotFound) {
				if err := s.registry.DeleteSession(ctx, sessionID); err != nil {
					s.logger.Warn("failed to clear stale session owner", "session", sessionID, "err", err)
				}
				fresh = true
			}
		}
	}
	if fresh {
		if err := s.startSession(ctx, sessionID); err != nil {
			s.logger.Error("failed to start session", "session", sessionID, "err", err)
			return
		}
	}

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "session", sessionID, "err", err)
			}
			return
		}
		env.SessionID = sessionID

		switch env.Type {
		case domain.WireUtterance:
			s.routeUtterance(ctx, sessionID, env)
		default:
			s.sendWireError(ctx, sessionID, "unsupported message type")
		}
	}
}

// startSession hands a brand-new session to the default agent.
func (s *Server) startSession(ctx context.Context, sessionID string) error {
	rt, ok := s.client.Runtime(s.defaultAgentID)
	if !ok {
		return errors.New("default agent is not attached")
	}
	return rt.Deliver(ctx, domain.Envelope{
		Type:      domain.WireSessionInit,
		SessionID: sessionID,
		ToAgent:   s.defaultAgentID,
	})
}

// routeUtterance forwards a user utterance to the session's current
// owner. Queue backpressure surfaces as an error envelope rather than
// unbounded buffering.
func (s *Server) routeUtterance(ctx context.Context, sessionID string, env domain.Envelope) {
	owner, _, err := s.registry.Owner(ctx, sessionID)
	if err != nil {
		s.sendWireError(ctx, sessionID, "unknown session")
		return
	}
	rt, ok := s.client.Runtime(owner)
	if !ok {
		s.sendWireError(ctx, sessionID, "owning agent unavailable")
		return
	}

	if err := rt.Deliver(ctx, env); err != nil {
		if errors.Is(err, agent.ErrQueueBusy) {
			s.sendWireError(ctx, sessionID, "agent busy, try again")
			return
		}
		s.sendWireError(ctx, sessionID, "delivery failed")
	}
}

func (s *Server) sendWireError(ctx context.Context, sessionID, reason string) {
	err := s.hub.Send(ctx, domain.Envelope{
		Type:      domain.WireError,
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		s.logger.Debug("failed to send error envelope", "session", sessionID, "err", err)
	}
}
