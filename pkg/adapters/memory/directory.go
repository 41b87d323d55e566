package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// Directory implements ports.AgentDirectory in memory.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]domain.AgentRecord
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{agents: make(map[string]domain.AgentRecord)}
}

var _ ports.AgentDirectory = (*Directory)(nil)

// Register implements ports.AgentDirectory.
func (d *Directory) Register(_ context.Context, record domain.AgentRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if record.Health == "" {
		record.Health = domain.HealthHealthy
	}
	if record.LastHeartbeatAt.IsZero() {
		record.LastHeartbeatAt = time.Now().UTC()
	}
	d.agents[record.AgentID] = record
	return nil
}

// Heartbeat implements ports.AgentDirectory.
func (d *Directory) Heartbeat(_ context.Context, agentID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.agents[agentID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	rec.LastHeartbeatAt = at
	if rec.Health == domain.HealthUnreachable {
		rec.Health = domain.HealthHealthy
	}
	d.agents[agentID] = rec
	return nil
}

// Get implements ports.AgentDirectory.
func (d *Directory) Get(_ context.Context, agentID string) (domain.AgentRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.agents[agentID]
	if !ok {
		return domain.AgentRecord{}, domain.ErrAgentNotFound
	}
	return rec, nil
}

// List implements ports.AgentDirectory.
func (d *Directory) List(_ context.Context) ([]domain.AgentRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	records := make([]domain.AgentRecord, 0, len(d.agents))
	for _, rec := range d.agents {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AgentID < records[j].AgentID })
	return records, nil
}

// SetHealth implements ports.AgentDirectory.
func (d *Directory) SetHealth(_ context.Context, agentID string, health domain.HealthState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.agents[agentID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	rec.Health = health
	d.agents[agentID] = rec
	return nil
}

// Remove implements ports.AgentDirectory.
func (d *Directory) Remove(_ context.Context, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentID)
	return nil
}
