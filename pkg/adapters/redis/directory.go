package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// Directory implements ports.AgentDirectory on a Redis hash keyed
// "<prefix>agent:registry", one field per agent ID.
type Directory struct {
	client *backend.Client
	prefix string
}

// NewDirectory creates a directory from an existing client.
func NewDirectory(client *backend.Client, prefix string) *Directory {
	if prefix == "" {
		prefix = "switchboard:"
	}
	return &Directory{client: client, prefix: prefix}
}

var _ ports.AgentDirectory = (*Directory)(nil)

func (d *Directory) key() string {
	return d.prefix + "agent:registry"
}

// Register implements ports.AgentDirectory.
func (d *Directory) Register(ctx context.Context, record domain.AgentRecord) error {
	if record.Health == "" {
		record.Health = domain.HealthHealthy
	}
	if record.LastHeartbeatAt.IsZero() {
		record.LastHeartbeatAt = time.Now().UTC()
	}
	return d.put(ctx, record)
}

func (d *Directory) put(ctx context.Context, record domain.AgentRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal agent record: %w", err)
	}
	if err := d.client.HSet(ctx, d.key(), record.AgentID, data).Err(); err != nil {
		return fmt.Errorf("failed to store agent record: %w", err)
	}
	return nil
}

// Heartbeat implements ports.AgentDirectory.
func (d *Directory) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	rec, err := d.Get(ctx, agentID)
	if err != nil {
		return err
	}
	rec.LastHeartbeatAt = at
	if rec.Health == domain.HealthUnreachable {
		rec.Health = domain.HealthHealthy
	}
	return d.put(ctx, rec)
}

// Get implements ports.AgentDirectory.
func (d *Directory) Get(ctx context.Context, agentID string) (domain.AgentRecord, error) {
	val, err := d.client.HGet(ctx, d.key(), agentID).Result()
	if err != nil {
		if err == backend.Nil {
			return domain.AgentRecord{}, domain.ErrAgentNotFound
		}
		return domain.AgentRecord{}, fmt.Errorf("failed to read agent record: %w", err)
	}

	var rec domain.AgentRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return domain.AgentRecord{}, fmt.Errorf("failed to unmarshal agent record: %w", err)
	}
	return rec, nil
}

// List implements ports.AgentDirectory.
func (d *Directory) List(ctx context.Context) ([]domain.AgentRecord, error) {
	vals, err := d.client.HGetAll(ctx, d.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agent records: %w", err)
	}

	records := make([]domain.AgentRecord, 0, len(vals))
	for _, val := range vals {
		var rec domain.AgentRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent record: %w", err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AgentID < records[j].AgentID })
	return records, nil
}

// SetHealth implements ports.AgentDirectory.
func (d *Directory) SetHealth(ctx context.Context, agentID string, health domain.HealthState) error {
	rec, err := d.Get(ctx, agentID)
	if err != nil {
		return err
	}
	rec.Health = health
	return d.put(ctx, rec)
}

// Remove implements ports.AgentDirectory.
func (d *Directory) Remove(ctx context.Context, agentID string) error {
	return d.client.HDel(ctx, d.key(), agentID).Err()
}
