package ports

import (
	"context"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// AgentDirectory tracks registered agents and their health. The routing
// engine consults it to validate handoff targets.
type AgentDirectory interface {
	// Register inserts or replaces an agent record. Registration implies a
	// fresh heartbeat.
	Register(ctx context.Context, record domain.AgentRecord) error

	// Heartbeat refreshes the agent's liveness timestamp and restores it
	// to Healthy if it was Unreachable.
	// Returns domain.ErrAgentNotFound for unknown agents.
	Heartbeat(ctx context.Context, agentID string, at time.Time) error

	// Get returns the record for one agent.
	// Returns domain.ErrAgentNotFound for unknown agents.
	Get(ctx context.Context, agentID string) (domain.AgentRecord, error)

	// List returns all registered agents.
	List(ctx context.Context) ([]domain.AgentRecord, error)

	// SetHealth overrides an agent's health state. Used by the heartbeat
	// monitor to mark agents Unreachable.
	SetHealth(ctx context.Context, agentID string, health domain.HealthState) error

	// Remove deletes an agent record, e.g. after prolonged unreachability.
	Remove(ctx context.Context, agentID string) error
}
