package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaCapturesChanges(t *testing.T) {
	before := NewSessionState("s1", "triage", "greet")
	before.SetContext("keep", "same")
	before.SetContext("drop", "gone")

	after := before.Clone()
	after.VisitNode("listen")
	after.Status = StatusWaitingInput
	after.SetContext("added", 42)
	delete(after.Context, "drop")
	after.AppendMessage(Message{ID: "m1", Role: "assistant", Text: "hello"})

	d := Delta(before, after)
	require.NotNil(t, d)

	require.NotNil(t, d.CurrentNodeID)
	assert.Equal(t, "listen", *d.CurrentNodeID)
	require.NotNil(t, d.Status)
	assert.Equal(t, StatusWaitingInput, *d.Status)
	require.NotNil(t, d.Version)
	assert.Equal(t, after.Version, *d.Version)

	// Unchanged keys stay out, deletions travel as nil.
	assert.NotContains(t, d.Context, "keep")
	assert.Equal(t, 42, d.Context["added"])
	val, present := d.Context["drop"]
	assert.True(t, present)
	assert.Nil(t, val)

	assert.Equal(t, []string{"listen"}, d.HistoryAppended)
	require.Len(t, d.MessagesAppended, 1)
	assert.Equal(t, "m1", d.MessagesAppended[0].ID)
}

func TestDeltaIdenticalStatesIsNil(t *testing.T) {
	s := NewSessionState("s1", "triage", "greet")
	assert.Nil(t, Delta(s, s.Clone()))
}

func TestDeltaNilOldCoversWholeState(t *testing.T) {
	s := NewSessionState("s1", "triage", "greet")
	s.SetContext("k", "v")

	d := Delta(nil, s)
	require.NotNil(t, d)
	assert.Equal(t, "greet", *d.CurrentNodeID)
	assert.Equal(t, "v", d.Context["k"])
	assert.Equal(t, []string{"greet"}, d.HistoryAppended)
}

func TestApplyToMirrorsDelta(t *testing.T) {
	before := NewSessionState("s1", "triage", "greet")
	before.SetContext("drop", "gone")

	after := before.Clone()
	after.VisitNode("listen")
	after.SetContext("added", "yes")
	delete(after.Context, "drop")
	after.AppendMessage(Message{ID: "m1", Role: "user", Text: "hi"})

	stored := before.Clone()
	Delta(before, after).ApplyTo(stored)

	assert.Equal(t, after.CurrentNodeID, stored.CurrentNodeID)
	assert.Equal(t, after.Context, stored.Context)
	assert.Equal(t, after.Messages, stored.Messages)
	assert.Equal(t, after.History, stored.History)
	assert.Equal(t, after.Version, stored.Version)
}

func TestApplyToOnNilContextMap(t *testing.T) {
	state := &SessionState{SessionID: "s1"}
	d := &StateDelta{SessionID: "s1", Context: map[string]any{"k": "v"}}
	d.ApplyTo(state)
	assert.Equal(t, "v", state.Context["k"])
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, (&StateDelta{SessionID: "s1"}).IsEmpty())

	node := "n"
	assert.False(t, (&StateDelta{CurrentNodeID: &node}).IsEmpty())
	assert.False(t, (&StateDelta{HistoryAppended: []string{"n"}}).IsEmpty())
}
