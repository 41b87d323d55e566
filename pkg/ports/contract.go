package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// RunSessionStoreContract verifies that a SessionStore implementation
// adheres to the interface contract. Every adapter test file calls it.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-session-" + time.Now().Format("20060102150405.000")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewSessionState(sessionID, "triage", "greet")
		state.SetContext("userName", "Ada")
		state.AppendMessage(domain.Message{ID: "m1", Role: "user", Text: "hello", Timestamp: time.Now().UTC()})

		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, state.CurrentNodeID, loaded.CurrentNodeID)
		assert.Equal(t, "Ada", loaded.Context["userName"])
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, "hello", loaded.Messages[0].Text)
		assert.Equal(t, state.Version, loaded.Version)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("ApplyDelta", func(t *testing.T) {
		before, err := store.Load(ctx, sessionID)
		require.NoError(t, err)

		after := before.Clone()
		after.SetContext("verified", true)
		after.VisitNode("ask_intent")
		after.AppendMessage(domain.Message{ID: "m2", Role: "assistant", Text: "how can I help?", Timestamp: time.Now().UTC()})

		delta := domain.Delta(before, after)
		require.NotNil(t, delta)
		require.NoError(t, store.ApplyDelta(ctx, sessionID, delta))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "ask_intent", loaded.CurrentNodeID)
		assert.Equal(t, true, loaded.Context["verified"])
		assert.Len(t, loaded.Messages, 2)
		assert.Equal(t, after.Version, loaded.Version)
	})

	t.Run("ApplyDelta Non-Existent", func(t *testing.T) {
		nodeID := "greet"
		err := store.ApplyDelta(ctx, "missing-"+sessionID, &domain.StateDelta{
			SessionID:     "missing-" + sessionID,
			CurrentNodeID: &nodeID,
		})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewSessionState(sessionID, "triage", "greet")))
		require.NoError(t, store.Delete(ctx, sessionID))

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, domain.NewSessionState(id1, "triage", "greet")))
		require.NoError(t, store.Save(ctx, domain.NewSessionState(id2, "triage", "greet")))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

// RunOwnershipContract verifies the compare-and-swap semantics of an
// OwnershipStore implementation.
func RunOwnershipContract(t *testing.T, store OwnershipStore) {
	ctx := context.Background()
	sessionID := "contract-own-" + time.Now().Format("20060102150405.000")

	t.Run("Unclaimed", func(t *testing.T) {
		_, _, err := store.Owner(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Initial Claim", func(t *testing.T) {
		require.NoError(t, store.SetOwner(ctx, sessionID, "triage-1", 0))

		owner, version, err := store.Owner(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "triage-1", owner)
		assert.Equal(t, int64(1), version)
	})

	t.Run("CAS Success", func(t *testing.T) {
		_, version, err := store.Owner(ctx, sessionID)
		require.NoError(t, err)

		require.NoError(t, store.SetOwner(ctx, sessionID, "banking-1", version))

		owner, next, err := store.Owner(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "banking-1", owner)
		assert.Equal(t, version+1, next)
	})

	t.Run("CAS Conflict", func(t *testing.T) {
		err := store.SetOwner(ctx, sessionID, "disputes-1", 0)
		var conflict *domain.SessionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, sessionID, conflict.SessionID)

		// Loser must not have changed ownership.
		owner, _, err := store.Owner(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "banking-1", owner)
	})

	t.Run("Release", func(t *testing.T) {
		require.NoError(t, store.ReleaseOwner(ctx, sessionID))
		_, _, err := store.Owner(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

// RunDirectoryContract verifies an AgentDirectory implementation.
func RunDirectoryContract(t *testing.T, dir AgentDirectory) {
	ctx := context.Background()
	agentID := "contract-agent-" + time.Now().Format("20060102150405.000")

	t.Run("Register and Get", func(t *testing.T) {
		rec := domain.AgentRecord{
			AgentID:      agentID,
			URL:          "http://localhost:9101",
			Capabilities: []string{"banking"},
			Health:       domain.HealthHealthy,
		}
		require.NoError(t, dir.Register(ctx, rec))

		got, err := dir.Get(ctx, agentID)
		require.NoError(t, err)
		assert.Equal(t, rec.URL, got.URL)
		assert.Equal(t, domain.HealthHealthy, got.Health)
		assert.False(t, got.LastHeartbeatAt.IsZero())
	})

	t.Run("Get Unknown", func(t *testing.T) {
		_, err := dir.Get(ctx, "missing-"+agentID)
		assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	})

	t.Run("Heartbeat", func(t *testing.T) {
		at := time.Now().UTC().Add(time.Minute)
		require.NoError(t, dir.Heartbeat(ctx, agentID, at))

		got, err := dir.Get(ctx, agentID)
		require.NoError(t, err)
		assert.WithinDuration(t, at, got.LastHeartbeatAt, time.Second)
	})

	t.Run("Heartbeat Unknown", func(t *testing.T) {
		err := dir.Heartbeat(ctx, "missing-"+agentID, time.Now())
		assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	})

	t.Run("SetHealth", func(t *testing.T) {
		require.NoError(t, dir.SetHealth(ctx, agentID, domain.HealthUnreachable))
		got, err := dir.Get(ctx, agentID)
		require.NoError(t, err)
		assert.Equal(t, domain.HealthUnreachable, got.Health)
		assert.False(t, got.Routable())
	})

	t.Run("Heartbeat Restores Health", func(t *testing.T) {
		require.NoError(t, dir.Heartbeat(ctx, agentID, time.Now().UTC()))
		got, err := dir.Get(ctx, agentID)
		require.NoError(t, err)
		assert.Equal(t, domain.HealthHealthy, got.Health)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, dir.Remove(ctx, agentID))
		_, err := dir.Get(ctx, agentID)
		assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	})
}
