// Package redis backs the session registry with Redis: session snapshots
// under TTL'd keys, agent records in a hash, ownership behind a Lua
// compare-and-swap, and a distributed lock for multi-replica gateways.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// DefaultSessionTTL matches the platform default of one idle hour.
const DefaultSessionTTL = 3600 * time.Second

// SessionStore implements ports.SessionStore on Redis. Keys are
// "<prefix>session:{id}"; every write refreshes the TTL. A ZSET index
// scored by expiry supports List with lazy pruning.
type SessionStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the redis adapters.
type Option func(*SessionStore)

// WithTTL overrides the session expiry. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *SessionStore) { s.ttl = ttl }
}

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *SessionStore) { s.prefix = prefix }
}

// NewSessionStore creates a store from an existing client.
func NewSessionStore(client *backend.Client, opts ...Option) *SessionStore {
	s := &SessionStore{
		client: client,
		prefix: "switchboard:",
		ttl:    DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *SessionStore) indexKey() string {
	return s.prefix + "session:index"
}

// Save implements ports.SessionStore.
func (s *SessionStore) Save(ctx context.Context, state *domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	return s.write(ctx, state.SessionID, data)
}

func (s *SessionStore) write(ctx context.Context, sessionID string, data []byte) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(sessionID), data, s.ttl)

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01, effectively never
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: sessionID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

// Load implements ports.SessionStore.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session from redis: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &state, nil
}

// ApplyDelta implements ports.SessionStore. The caller serializes writes
// per session (registry lock), so read-merge-write is safe here.
func (s *SessionStore) ApplyDelta(ctx context.Context, sessionID string, delta *domain.StateDelta) error {
	state, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	delta.ApplyTo(state)
	return s.Save(ctx, state)
}

// Delete implements ports.SessionStore.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// List implements ports.SessionStore, pruning expired IDs from the index
// lazily.
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
