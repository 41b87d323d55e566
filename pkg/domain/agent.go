package domain

import "time"

// HealthState tracks an agent's availability for routing decisions.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

// AgentRecord is one entry in the agent directory. Created on startup
// registration, refreshed by heartbeats, marked Unreachable after missing
// the heartbeat threshold.
type AgentRecord struct {
	AgentID         string      `json:"agentId"`
	URL             string      `json:"url"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	Health          HealthState `json:"health"`
	LastHeartbeatAt time.Time   `json:"lastHeartbeatAt"`
}

// HasCapability reports whether the agent declared the named capability.
func (a *AgentRecord) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Routable reports whether the agent is eligible as a handoff target.
// Degraded agents still serve their current sessions but receive no new
// ones.
func (a *AgentRecord) Routable() bool {
	return a.Health == HealthHealthy
}
