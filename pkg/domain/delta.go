package domain

import (
	"reflect"
	"time"
)

// StateDelta is the change set between two session snapshots. The registry
// persists deltas through putMemory-style writes and clients merge them
// into their local view; transcript and history are append-only so only
// the appended suffix travels.
type StateDelta struct {
	SessionID string `json:"sessionId"`

	CurrentNodeID *string          `json:"currentNodeId,omitempty"`
	Status        *ExecutionStatus `json:"status,omitempty"`

	// Context holds changed, added or deleted keys. Deleted keys are
	// present with a nil value.
	Context map[string]any `json:"context,omitempty"`

	MessagesAppended []Message `json:"messagesAppended,omitempty"`
	HistoryAppended  []string  `json:"historyAppended,omitempty"`

	Version *int64 `json:"version,omitempty"`
}

// IsEmpty reports whether the delta carries no actionable change.
func (d *StateDelta) IsEmpty() bool {
	return d.CurrentNodeID == nil &&
		d.Status == nil &&
		d.Version == nil &&
		len(d.Context) == 0 &&
		len(d.MessagesAppended) == 0 &&
		len(d.HistoryAppended) == 0
}

// ApplyTo merges the delta into a stored state. Store adapters share this
// so every backend merges identically.
func (d *StateDelta) ApplyTo(state *SessionState) {
	if d.CurrentNodeID != nil {
		state.CurrentNodeID = *d.CurrentNodeID
	}
	if d.Status != nil {
		state.Status = *d.Status
	}
	for k, v := range d.Context {
		if v == nil {
			delete(state.Context, k)
			continue
		}
		if state.Context == nil {
			state.Context = make(map[string]any)
		}
		state.Context[k] = v
	}
	state.Messages = append(state.Messages, d.MessagesAppended...)
	state.History = append(state.History, d.HistoryAppended...)
	if d.Version != nil {
		state.Version = *d.Version
	}
	state.UpdatedAt = time.Now().UTC()
}

// Delta computes the difference between two states of the same session.
// A nil old state yields a delta representing the entire new state.
func Delta(oldState, newState *SessionState) *StateDelta {
	if newState == nil {
		return nil
	}

	d := &StateDelta{SessionID: newState.SessionID}

	if oldState == nil || oldState.CurrentNodeID != newState.CurrentNodeID {
		d.CurrentNodeID = &newState.CurrentNodeID
	}
	if oldState == nil || oldState.Status != newState.Status {
		d.Status = &newState.Status
	}
	if oldState == nil || oldState.Version != newState.Version {
		d.Version = &newState.Version
	}

	d.Context = deltaContext(oldState, newState)
	d.MessagesAppended = appendedMessages(oldState, newState)
	d.HistoryAppended = appendedHistory(oldState, newState)

	if d.IsEmpty() {
		return nil
	}
	return d
}

func deltaContext(old, new *SessionState) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Context {
			delta[k] = v
		}
	} else {
		for k, newVal := range new.Context {
			oldVal, exists := old.Context[k]
			if !exists || !reflect.DeepEqual(oldVal, newVal) {
				delta[k] = newVal
			}
		}
		for k := range old.Context {
			if _, exists := new.Context[k]; !exists {
				delta[k] = nil
			}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

func appendedMessages(old, new *SessionState) []Message {
	if len(new.Messages) == 0 {
		return nil
	}
	if old == nil {
		return new.Messages
	}
	if len(new.Messages) > len(old.Messages) {
		return new.Messages[len(old.Messages):]
	}
	return nil
}

func appendedHistory(old, new *SessionState) []string {
	if len(new.History) == 0 {
		return nil
	}
	if old == nil {
		return new.History
	}
	if len(new.History) > len(old.History) {
		return new.History[len(old.History):]
	}
	return nil
}
