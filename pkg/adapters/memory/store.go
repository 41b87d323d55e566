// Package memory provides in-process implementations of the registry
// ports for tests and single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

type sessionEntry struct {
	state     *domain.SessionState
	expiresAt time.Time
}

// SessionStore implements ports.SessionStore with an in-memory map and
// the same TTL semantics as the redis adapter: every write refreshes the
// expiry.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
	now      func() time.Time
}

// SessionOption configures the SessionStore.
type SessionOption func(*SessionStore)

// WithTTL sets the session expiry. Zero means sessions never expire.
func WithTTL(ttl time.Duration) SessionOption {
	return func(s *SessionStore) { s.ttl = ttl }
}

// WithClock overrides the time source. Tests use it to force expiry.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) { s.now = now }
}

// NewSessionStore creates an empty store.
func NewSessionStore(opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) expiry() time.Time {
	if s.ttl == 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *SessionStore) live(e *sessionEntry) bool {
	return e != nil && (e.expiresAt.IsZero() || s.now().Before(e.expiresAt))
}

// Save implements ports.SessionStore.
func (s *SessionStore) Save(_ context.Context, state *domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = &sessionEntry{
		state:     state.Clone(),
		expiresAt: s.expiry(),
	}
	return nil
}

// Load implements ports.SessionStore.
func (s *SessionStore) Load(_ context.Context, sessionID string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.sessions[sessionID]
	if !s.live(entry) {
		return nil, domain.ErrSessionNotFound
	}
	return entry.state.Clone(), nil
}

// ApplyDelta implements ports.SessionStore.
func (s *SessionStore) ApplyDelta(_ context.Context, sessionID string, delta *domain.StateDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.sessions[sessionID]
	if !s.live(entry) {
		return domain.ErrSessionNotFound
	}

	delta.ApplyTo(entry.state)
	entry.expiresAt = s.expiry()
	return nil
}

// Delete implements ports.SessionStore.
func (s *SessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// List implements ports.SessionStore.
func (s *SessionStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id, entry := range s.sessions {
		if !s.live(entry) {
			delete(s.sessions, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
