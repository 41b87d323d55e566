package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// lockEntry holds a per-session mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Registry fronts the session store, ownership store and agent directory
// with per-session mutual exclusion. Lock entries are reference counted
// and garbage collected when the last holder releases.
type Registry struct {
	sessions  ports.SessionStore
	ownership ports.OwnershipStore
	directory ports.AgentDirectory

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

// WithLocker enables distributed locking for multi-replica deployments.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(r *Registry) { r.locker = locker }
}

// WithLockTTL sets the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.lockTTL = ttl }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates a Registry over the given stores.
func New(sessions ports.SessionStore, ownership ports.OwnershipStore, directory ports.AgentDirectory, opts ...Option) *Registry {
	r := &Registry{
		sessions:  sessions,
		ownership: ownership,
		directory: directory,
		locks:     make(map[string]*lockEntry),
		lockTTL:   30 * time.Second,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) acquire(sessionID string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		r.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

func (r *Registry) release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(r.locks, sessionID)
	}
}

// WithSessionLock executes fn while holding the session's lock, acquiring
// the distributed lock too when one is configured.
func (r *Registry) WithSessionLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := r.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		r.release(sessionID)
	}()

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, sessionID, r.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				r.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// LoadSession returns the persisted state for a session.
func (r *Registry) LoadSession(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	var state *domain.SessionState
	err := r.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		state, err = r.sessions.Load(ctx, sessionID)
		return err
	})
	return state, err
}

// SaveSession persists a full state snapshot, refreshing the TTL.
func (r *Registry) SaveSession(ctx context.Context, state *domain.SessionState) error {
	return r.WithSessionLock(ctx, state.SessionID, func(ctx context.Context) error {
		return r.sessions.Save(ctx, state)
	})
}

// PutMemory merges a context delta into the stored session, refreshing
// the TTL.
func (r *Registry) PutMemory(ctx context.Context, sessionID string, delta *domain.StateDelta) error {
	if delta == nil || delta.IsEmpty() {
		return nil
	}
	return r.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		return r.sessions.ApplyDelta(ctx, sessionID, delta)
	})
}

// GetMemory is LoadSession under the name the wire protocol uses.
func (r *Registry) GetMemory(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	return r.LoadSession(ctx, sessionID)
}

// DeleteSession removes session state and its ownership record.
func (r *Registry) DeleteSession(ctx context.Context, sessionID string) error {
	return r.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		if err := r.ownership.ReleaseOwner(ctx, sessionID); err != nil {
			return err
		}
		return r.sessions.Delete(ctx, sessionID)
	})
}

// Sessions lists live session IDs.
func (r *Registry) Sessions(ctx context.Context) ([]string, error) {
	return r.sessions.List(ctx)
}

// Owner returns the agent owning a session plus the ownership version.
func (r *Registry) Owner(ctx context.Context, sessionID string) (string, int64, error) {
	return r.ownership.Owner(ctx, sessionID)
}

// SetOwner transfers session ownership via compare-and-swap. Exactly one
// of several concurrent attempts with the same expectedVersion succeeds;
// the rest get *domain.SessionConflictError.
func (r *Registry) SetOwner(ctx context.Context, sessionID, agentID string, expectedVersion int64) error {
	return r.ownership.SetOwner(ctx, sessionID, agentID, expectedVersion)
}

// RegisterAgent adds or refreshes an agent record.
func (r *Registry) RegisterAgent(ctx context.Context, record domain.AgentRecord) error {
	if record.AgentID == "" {
		return fmt.Errorf("agent record missing ID")
	}
	if record.Health == "" {
		record.Health = domain.HealthHealthy
	}
	r.logger.Info("agent registered", "agent", record.AgentID, "url", record.URL, "capabilities", record.Capabilities)
	return r.directory.Register(ctx, record)
}

// Heartbeat refreshes an agent's liveness.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	return r.directory.Heartbeat(ctx, agentID, time.Now().UTC())
}

// Agent returns one agent record.
func (r *Registry) Agent(ctx context.Context, agentID string) (domain.AgentRecord, error) {
	return r.directory.Get(ctx, agentID)
}

// Agents lists all registered agents.
func (r *Registry) Agents(ctx context.Context) ([]domain.AgentRecord, error) {
	return r.directory.List(ctx)
}
