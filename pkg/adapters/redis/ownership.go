package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// casScript performs the ownership compare-and-swap server-side so
// concurrent handoff commits race atomically. Returns -1 on success, or
// the actual stored version on conflict. Every successful write refreshes
// the record's TTL so an owner record never outlives its session state.
const casScript = `
local cur = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if cur ~= tonumber(ARGV[2]) then
	return cur
end
redis.call('HSET', KEYS[1], 'agent', ARGV[1], 'version', cur + 1)
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return -1
`

// OwnershipStore implements ports.OwnershipStore on Redis.
type OwnershipStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	cas    *backend.Script
}

// OwnershipOption configures the ownership store.
type OwnershipOption func(*OwnershipStore)

// WithOwnershipTTL overrides the owner record expiry. It should match
// the session store's TTL. Zero disables expiry.
func WithOwnershipTTL(ttl time.Duration) OwnershipOption {
	return func(s *OwnershipStore) { s.ttl = ttl }
}

// NewOwnershipStore creates an ownership store from an existing client.
func NewOwnershipStore(client *backend.Client, prefix string, opts ...OwnershipOption) *OwnershipStore {
	if prefix == "" {
		prefix = "switchboard:"
	}
	s := &OwnershipStore{
		client: client,
		prefix: prefix,
		ttl:    DefaultSessionTTL,
		cas:    backend.NewScript(casScript),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.OwnershipStore = (*OwnershipStore)(nil)

func (s *OwnershipStore) key(sessionID string) string {
	return s.prefix + "owner:" + sessionID
}

// Owner implements ports.OwnershipStore.
func (s *OwnershipStore) Owner(ctx context.Context, sessionID string) (string, int64, error) {
	vals, err := s.client.HMGet(ctx, s.key(sessionID), "agent", "version").Result()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read session owner: %w", err)
	}
	if vals[0] == nil {
		return "", 0, domain.ErrSessionNotFound
	}

	agentID, _ := vals[0].(string)
	version := int64(0)
	if raw, ok := vals[1].(string); ok {
		version, _ = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	}
	return agentID, version, nil
}

// SetOwner implements ports.OwnershipStore via the Lua CAS.
func (s *OwnershipStore) SetOwner(ctx context.Context, sessionID, agentID string, expectedVersion int64) error {
	res, err := s.cas.Run(ctx, s.client, []string{s.key(sessionID)}, agentID, expectedVersion, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("ownership CAS failed: %w", err)
	}
	if res != -1 {
		return &domain.SessionConflictError{
			SessionID:       sessionID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   res,
		}
	}
	return nil
}

// ReleaseOwner implements ports.OwnershipStore.
func (s *OwnershipStore) ReleaseOwner(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
