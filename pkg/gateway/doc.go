// Package gateway is the platform's front door. It terminates user
// websocket connections, routes utterances to whichever agent currently
// owns the session, and exposes the HTTP surface for agent registration,
// heartbeats, handoffs, health and metrics.
package gateway
