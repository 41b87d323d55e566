package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// wsConn serializes writes to one websocket connection; gorilla
// connections allow a single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks the websocket connection serving each session. It is the
// user-facing emitter: agent_say and error envelopes flow through Send to
// the session's connection.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*wsConn

	// onBind/onUnbind feed the active-session gauge when metrics are
	// enabled.
	onBind   func()
	onUnbind func()
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		conns:    make(map[string]*wsConn),
		onBind:   func() {},
		onUnbind: func() {},
	}
}

// Bind associates a session with a connection, replacing any previous
// binding (reconnects win).
func (h *Hub) Bind(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	_, replaced := h.conns[sessionID]
	h.conns[sessionID] = &wsConn{conn: conn}
	h.mu.Unlock()
	if !replaced {
		h.onBind()
	}
}

// Unbind drops a session's connection if conn is still the bound one.
func (h *Hub) Unbind(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	bound, ok := h.conns[sessionID]
	if ok && bound.conn == conn {
		delete(h.conns, sessionID)
	} else {
		ok = false
	}
	h.mu.Unlock()
	if ok {
		h.onUnbind()
	}
}

// Send implements agent.Emitter: deliver an envelope to the session's
// connection.
func (h *Hub) Send(_ context.Context, env domain.Envelope) error {
	h.mu.Lock()
	c, ok := h.conns[env.SessionID]
	h.mu.Unlock()
	if !ok {
		// The user may have disconnected mid-step; the transcript still has
		// the message for replay on reconnect.
		h.logger.Debug("no connection for session, dropping envelope", "session", env.SessionID, "type", env.Type)
		return nil
	}
	if err := c.writeJSON(env); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}
