package redis

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/relaydesk/switchboard/pkg/ports"
)

// unlockScript releases the lock only when the holder's token still
// matches, so an expired-and-reacquired lock is never deleted by the old
// holder.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker implements ports.DistributedLocker using SET NX PX with a
// token-checked Lua unlock.
type Locker struct {
	client *backend.Client
	prefix string
	unlock *backend.Script
	// pollInterval is how often acquisition is retried while contended.
	pollInterval time.Duration
}

// NewLocker creates a Locker from an existing client.
func NewLocker(client *backend.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "switchboard:"
	}
	return &Locker{
		client:       client,
		prefix:       prefix,
		unlock:       backend.NewScript(unlockScript),
		pollInterval: 100 * time.Millisecond,
	}
}

var _ ports.DistributedLocker = (*Locker)(nil)

// Lock implements ports.DistributedLocker. It polls until the lock is
// acquired or ctx is canceled.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		success, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if success {
			return func(ctx context.Context) error {
				return l.unlock.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
