package registry

import (
	"context"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// MonitorConfig tunes the heartbeat monitor.
type MonitorConfig struct {
	// Interval is the expected heartbeat cadence and the sweep period.
	Interval time.Duration
	// MissThreshold is how many consecutive intervals may elapse without a
	// heartbeat before the agent is marked Unreachable.
	MissThreshold int
	// RemoveAfter is how long an agent may stay silent before its record
	// is removed entirely. Zero disables removal.
	RemoveAfter time.Duration
}

// DefaultMonitorConfig matches the platform defaults: 10s heartbeats,
// Unreachable after 3 misses, removed after 5 minutes of silence.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:      10 * time.Second,
		MissThreshold: 3,
		RemoveAfter:   5 * time.Minute,
	}
}

// RunMonitor sweeps the agent directory on cfg.Interval until ctx is
// canceled, downgrading silent agents and removing long-dead ones. Run it
// in its own goroutine on the gateway.
func (r *Registry) RunMonitor(ctx context.Context, cfg MonitorConfig) {
	if cfg.Interval <= 0 {
		cfg = DefaultMonitorConfig()
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx, cfg)
		}
	}
}

// sweep applies the health policy once. Exported behavior is covered via
// SweepOnce in tests.
func (r *Registry) sweep(ctx context.Context, cfg MonitorConfig) {
	agents, err := r.directory.List(ctx)
	if err != nil {
		r.logger.Warn("heartbeat sweep failed to list agents", "err", err)
		return
	}

	now := time.Now().UTC()
	deadline := time.Duration(cfg.MissThreshold) * cfg.Interval

	for _, agent := range agents {
		silence := now.Sub(agent.LastHeartbeatAt)

		if cfg.RemoveAfter > 0 && silence > cfg.RemoveAfter {
			r.logger.Warn("removing dead agent", "agent", agent.AgentID, "silence", silence)
			if err := r.directory.Remove(ctx, agent.AgentID); err != nil {
				r.logger.Warn("failed to remove agent", "agent", agent.AgentID, "err", err)
			}
			continue
		}

		if silence > deadline && agent.Health != domain.HealthUnreachable {
			r.logger.Warn("marking agent unreachable", "agent", agent.AgentID, "silence", silence)
			if err := r.directory.SetHealth(ctx, agent.AgentID, domain.HealthUnreachable); err != nil {
				r.logger.Warn("failed to update agent health", "agent", agent.AgentID, "err", err)
			}
		}
	}
}

// SweepOnce runs a single monitor pass. Intended for tests and manual
// operational tooling.
func (r *Registry) SweepOnce(ctx context.Context, cfg MonitorConfig) {
	r.sweep(ctx, cfg)
}
