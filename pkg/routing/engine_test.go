package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/pkg/adapters/memory"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/registry"
)

// fakeClient records deliveries in order and lets tests inject failures.
type fakeClient struct {
	mu     sync.Mutex
	events []string

	initErr   error
	initDelay time.Duration

	consultCalls int
	consultErr   error
}

func (f *fakeClient) InitSession(ctx context.Context, agent domain.AgentRecord, sessionID string, _ domain.ContextSnapshot) error {
	if f.initDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.initDelay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.events = append(f.events, "init:"+sessionID+":"+agent.AgentID)
	return nil
}

func (f *fakeClient) Release(_ context.Context, agent domain.AgentRecord, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "release:"+sessionID+":"+agent.AgentID)
	return nil
}

func (f *fakeClient) Consult(ctx context.Context, _ domain.AgentRecord, c domain.Consultation) (domain.ConsultationResult, error) {
	f.mu.Lock()
	f.consultCalls++
	err := f.consultErr
	f.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			<-ctx.Done()
			return domain.ConsultationResult{}, ctx.Err()
		}
		return domain.ConsultationResult{}, err
	}
	return domain.ConsultationResult{Answer: "answer to: " + c.Question}, nil
}

func (f *fakeClient) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func fastConfig() Config {
	return Config{
		AckTimeout:     100 * time.Millisecond,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		LoopWindow:     60 * time.Second,
		ConsultTimeout: 100 * time.Millisecond,
		ConsultTTL:     5 * time.Second,
	}
}

func newTestRegistry(t *testing.T, agents ...domain.AgentRecord) *registry.Registry {
	t.Helper()
	reg := registry.New(memory.NewSessionStore(), memory.NewOwnershipStore(), memory.NewDirectory())
	for _, a := range agents {
		require.NoError(t, reg.RegisterAgent(context.Background(), a))
	}
	return reg
}

func healthyAgent(id string, capabilities ...string) domain.AgentRecord {
	return domain.AgentRecord{
		AgentID:         id,
		URL:             "http://" + id + ".local",
		Capabilities:    capabilities,
		Health:          domain.HealthHealthy,
		LastHeartbeatAt: time.Now().UTC(),
	}
}

func claimSession(t *testing.T, reg *registry.Registry, sessionID, agentID string) {
	t.Helper()
	require.NoError(t, reg.SetOwner(context.Background(), sessionID, agentID, 0))
}

func request(sessionID, from, to string) domain.HandoffRequest {
	return domain.HandoffRequest{
		ID:          "req-" + sessionID,
		SessionID:   sessionID,
		FromAgentID: from,
		ToAgentID:   to,
		Reason:      "intent: " + to,
		Snapshot: domain.ContextSnapshot{
			WorkflowID:    "triage",
			CurrentNodeID: "route",
			Status:        domain.StatusActive,
			Context:       map[string]any{"user_intent": to},
		},
		RequestedAt: time.Now().UTC(),
	}
}

func TestHandoffAcked(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("triage"), healthyAgent("banking"))
	claimSession(t, reg, "s1", "triage")
	client := &fakeClient{}
	engine := NewEngine(reg, client, fastConfig())

	out := engine.Execute(context.Background(), request("s1", "triage", "banking"))

	require.NoError(t, out.Err)
	assert.Equal(t, domain.PhaseAcked, out.Phase)
	assert.Equal(t, "banking", out.TargetAgentID)
	assert.Equal(t, 1, out.Attempts)

	owner, version, err := reg.Owner(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "banking", owner)
	assert.Equal(t, int64(2), version)

	// Snapshot persisted before the ack completed.
	state, err := reg.LoadSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "banking", state.Context["user_intent"])

	assert.Equal(t, []string{"init:s1:banking", "release:s1:triage"}, client.log())
}

func TestHandoffSelfRejected(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("triage"))
	claimSession(t, reg, "s1", "triage")
	engine := NewEngine(reg, &fakeClient{}, fastConfig())

	out := engine.Execute(context.Background(), request("s1", "triage", "triage"))

	assert.Equal(t, domain.PhaseFailed, out.Phase)
	var validation *domain.HandoffValidationError
	require.ErrorAs(t, out.Err, &validation)
	assert.Equal(t, domain.RejectSelfHandoff, validation.Reason)
}

func TestHandoffStaleOwnerRejected(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("triage"), healthyAgent("banking"))
	claimSession(t, reg, "s1", "disputes")
	client := &fakeClient{}
	engine := NewEngine(reg, client, fastConfig())

	out := engine.Execute(context.Background(), request("s1", "triage", "banking"))

	assert.Equal(t, domain.PhaseFailed, out.Phase)
	var validation *domain.HandoffValidationError
	require.ErrorAs(t, out.Err, &validation)
	assert.Equal(t, domain.RejectStaleOwner, validation.Reason)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, client.log())

	owner, _, err := reg.Owner(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "disputes", owner)
}

func TestHandoffLoopDetected(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("triage"), healthyAgent("banking"))
	client := &fakeClient{}

	now := time.Now()
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	engine := NewEngine(reg, client, fastConfig(), WithClock(clock))

	ctx := context.Background()
	claimSession(t, reg, "s1", "triage")

	out := engine.Execute(ctx, request("s1", "triage", "banking"))
	require.Equal(t, domain.PhaseAcked, out.Phase)

	out = engine.Execute(ctx, request("s1", "banking", "triage"))
	require.Equal(t, domain.PhaseAcked, out.Phase)

	// The exact triage->banking pair repeats inside the window.
	out = engine.Execute(ctx, request("s1", "triage", "banking"))
	assert.Equal(t, domain.PhaseFailed, out.Phase)
	var validation *domain.HandoffValidationError
	require.ErrorAs(t, out.Err, &validation)
	assert.Equal(t, domain.RejectLoopDetected, validation.Reason)

	owner, _, err := reg.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "triage", owner)

	// Outside the window the same pair is allowed again.
	clockMu.Lock()
	now = now.Add(61 * time.Second)
	clockMu.Unlock()

	out = engine.Execute(ctx, request("s1", "triage", "banking"))
	assert.Equal(t, domain.PhaseAcked, out.Phase)
}

func TestHandoffFallbackOnUnknownTarget(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("banking"), healthyAgent("frontdesk", "triage"))
	claimSession(t, reg, "s1", "banking")
	client := &fakeClient{}
	engine := NewEngine(reg, client, fastConfig())

	out := engine.Execute(context.Background(), request("s1", "banking", "mortgage"))

	require.NoError(t, out.Err)
	assert.Equal(t, domain.PhaseAcked, out.Phase)
	assert.Equal(t, "frontdesk", out.TargetAgentID)

	owner, _, err := reg.Owner(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "frontdesk", owner)
}

func TestHandoffFallbackOnUnhealthyTarget(t *testing.T) {
	unhealthy := healthyAgent("mortgage")
	unhealthy.Health = domain.HealthUnreachable
	reg := newTestRegistry(t, healthyAgent("banking"), unhealthy, healthyAgent("frontdesk", "triage"))
	claimSession(t, reg, "s1", "banking")
	engine := NewEngine(reg, &fakeClient{}, fastConfig())

	out := engine.Execute(context.Background(), request("s1", "banking", "mortgage"))

	assert.Equal(t, domain.PhaseAcked, out.Phase)
	assert.Equal(t, "frontdesk", out.TargetAgentID)
}

func TestHandoffExhaustsAttemptsWithoutFallback(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("banking"))
	claimSession(t, reg, "s1", "banking")
	client := &fakeClient{}
	engine := NewEngine(reg, client, fastConfig())

	out := engine.Execute(context.Background(), request("s1", "banking", "mortgage"))

	assert.Equal(t, domain.PhaseFailed, out.Phase)
	assert.Equal(t, 3, out.Attempts)
	require.Error(t, out.Err)
	assert.Empty(t, client.log())

	owner, _, err := reg.Owner(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "banking", owner)
}

func TestHandoffAckTimeoutRollsBackOwnership(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("triage"), healthyAgent("banking"))
	claimSession(t, reg, "s1", "triage")

	config := fastConfig()
	config.AckTimeout = 10 * time.Millisecond
	client := &fakeClient{initDelay: time.Second}
	engine := NewEngine(reg, client, config)

	out := engine.Execute(context.Background(), request("s1", "triage", "banking"))

	assert.Equal(t, domain.PhaseFailed, out.Phase)
	assert.Equal(t, 3, out.Attempts)
	var timeout *domain.HandoffTimeoutError
	assert.ErrorAs(t, out.Err, &timeout)

	// No release without an ack, and the source keeps the session.
	assert.Empty(t, client.log())
	owner, _, err := reg.Owner(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "triage", owner)
}

func TestHandoffConcurrentSingleWinner(t *testing.T) {
	const sessions = 1000

	// "loans" is not registered; racers picking it exercise the fallback
	// path to the triage-capable frontdesk agent.
	reg := newTestRegistry(t,
		healthyAgent("triage"),
		healthyAgent("banking"),
		healthyAgent("mortgage"),
		healthyAgent("disputes"),
		healthyAgent("frontdesk", "triage"),
	)
	client := &fakeClient{}
	engine := NewEngine(reg, client, fastConfig())
	pool := []string{"banking", "mortgage", "disputes", "loans"}

	// Seeded so a failure reproduces with the same racer layout.
	rng := rand.New(rand.NewSource(7))

	ctx := context.Background()
	var wg sync.WaitGroup
	outcomes := make([][]Outcome, sessions)

	for i := 0; i < sessions; i++ {
		sessionID := fmt.Sprintf("s%d", i)
		claimSession(t, reg, sessionID, "triage")

		// 2-4 racers per session, each aiming at a random target. All
		// present the same observed version; the CAS admits exactly one.
		racers := 2 + rng.Intn(3)
		targets := make([]string, racers)
		for j := range targets {
			targets[j] = pool[rng.Intn(len(pool))]
		}
		outcomes[i] = make([]Outcome, racers)

		for j, target := range targets {
			wg.Add(1)
			go func(i, j int, sessionID, target string) {
				defer wg.Done()
				outcomes[i][j] = engine.Execute(ctx, request(sessionID, "triage", target))
			}(i, j, sessionID, target)
		}
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		sessionID := fmt.Sprintf("s%d", i)
		acked := 0
		for _, out := range outcomes[i] {
			if out.Phase == domain.PhaseAcked {
				acked++
			}
		}
		assert.Equal(t, 1, acked, "session %s must have exactly one winning handoff", sessionID)

		owner, _, err := reg.Owner(ctx, sessionID)
		require.NoError(t, err)
		assert.NotEqual(t, "triage", owner, "session %s must have moved", sessionID)
	}

	// Every release was preceded by the matching init.
	orderOK(t, client.log())
}

// orderOK asserts that for each session the init event appears before the
// release event.
func orderOK(t *testing.T, events []string) {
	t.Helper()
	initSeen := make(map[string]bool)
	for _, event := range events {
		var sessionID string
		if n, _ := fmt.Sscanf(event, "init:%s", &sessionID); n == 1 {
			initSeen[sessionKey(sessionID)] = true
			continue
		}
		if n, _ := fmt.Sscanf(event, "release:%s", &sessionID); n == 1 {
			assert.True(t, initSeen[sessionKey(sessionID)], "release before init: %s", event)
		}
	}
}

func sessionKey(tail string) string {
	for i := 0; i < len(tail); i++ {
		if tail[i] == ':' {
			return tail[:i]
		}
	}
	return tail
}

func TestConsultCachesIdenticalQuestions(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("identity"))
	client := &fakeClient{}
	engine := NewEngine(reg, client, fastConfig())

	ctx := context.Background()
	question := domain.Consultation{
		SessionID: "s1",
		FromAgent: "banking",
		ToAgent:   "identity",
		Question:  "is the caller verified?",
	}

	first, err := engine.Consult(ctx, question)
	require.NoError(t, err)
	second, err := engine.Consult(ctx, question)
	require.NoError(t, err)

	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, client.consultCalls)

	// A different question is not served from cache.
	other := question
	other.Question = "what is the verification level?"
	_, err = engine.Consult(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, client.consultCalls)
}

func TestConsultTimesOut(t *testing.T) {
	reg := newTestRegistry(t, healthyAgent("identity"))
	client := &fakeClient{consultErr: context.DeadlineExceeded}
	config := fastConfig()
	config.ConsultTimeout = 10 * time.Millisecond
	engine := NewEngine(reg, client, config)

	_, err := engine.Consult(context.Background(), domain.Consultation{
		SessionID: "s1",
		FromAgent: "banking",
		ToAgent:   "identity",
		Question:  "is the caller verified?",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsultUnknownTarget(t *testing.T) {
	reg := newTestRegistry(t)
	engine := NewEngine(reg, &fakeClient{}, fastConfig())

	_, err := engine.Consult(context.Background(), domain.Consultation{
		SessionID: "s1",
		FromAgent: "banking",
		ToAgent:   "identity",
		Question:  "is the caller verified?",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
