package ports

import (
	"context"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// SessionStore persists session state snapshots and incremental deltas.
// Implementations refresh the session TTL on every write so active
// conversations never expire mid-flight.
type SessionStore interface {
	// Save persists a full state snapshot.
	Save(ctx context.Context, state *domain.SessionState) error

	// Load retrieves the state for a session.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.SessionState, error)

	// ApplyDelta merges an incremental change set into the stored state.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	ApplyDelta(ctx context.Context, sessionID string, delta *domain.StateDelta) error

	// Delete removes the session state.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of live (non-expired) sessions.
	List(ctx context.Context) ([]string, error)
}

// OwnershipStore is the single source of truth for which agent owns a
// session. SetOwner is a compare-and-swap: concurrent handoff attempts
// race safely and exactly one wins.
type OwnershipStore interface {
	// Owner returns the owning agent and the ownership version for a
	// session. Returns domain.ErrSessionNotFound for unclaimed sessions.
	Owner(ctx context.Context, sessionID string) (agentID string, version int64, err error)

	// SetOwner transfers ownership if the stored version still equals
	// expectedVersion. An initial claim passes expectedVersion 0. On
	// success the stored version becomes expectedVersion+1. A stale
	// expectation returns *domain.SessionConflictError.
	SetOwner(ctx context.Context, sessionID, agentID string, expectedVersion int64) error

	// ReleaseOwner removes the ownership record, e.g. on session end.
	ReleaseOwner(ctx context.Context, sessionID string) error
}
