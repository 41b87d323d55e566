package memory

import (
	"context"
	"sync"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

type owner struct {
	agentID string
	version int64
}

// OwnershipStore implements ports.OwnershipStore with a mutex-guarded
// map. The mutex makes SetOwner an atomic compare-and-swap.
type OwnershipStore struct {
	mu     sync.Mutex
	owners map[string]owner
}

// NewOwnershipStore creates an empty ownership store.
func NewOwnershipStore() *OwnershipStore {
	return &OwnershipStore{owners: make(map[string]owner)}
}

var _ ports.OwnershipStore = (*OwnershipStore)(nil)

// Owner implements ports.OwnershipStore.
func (s *OwnershipStore) Owner(_ context.Context, sessionID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[sessionID]
	if !ok {
		return "", 0, domain.ErrSessionNotFound
	}
	return o.agentID, o.version, nil
}

// SetOwner implements ports.OwnershipStore.
func (s *OwnershipStore) SetOwner(_ context.Context, sessionID, agentID string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.owners[sessionID] // zero value means unclaimed, version 0
	if current.version != expectedVersion {
		return &domain.SessionConflictError{
			SessionID:       sessionID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current.version,
		}
	}
	s.owners[sessionID] = owner{agentID: agentID, version: expectedVersion + 1}
	return nil
}

// ReleaseOwner implements ports.OwnershipStore.
func (s *OwnershipStore) ReleaseOwner(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, sessionID)
	return nil
}
