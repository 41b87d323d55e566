package domain

import (
	"time"
)

// ExecutionStatus is the current mode of a session's workflow run.
type ExecutionStatus string

const (
	StatusActive       ExecutionStatus = "active"
	StatusWaitingInput ExecutionStatus = "waiting_input"
	StatusTerminated   ExecutionStatus = "terminated"
)

// MaxSubWorkflowDepth bounds nested workflow invocations.
const MaxSubWorkflowDepth = 3

// WorkflowFrame is one saved parent continuation on the sub-workflow call
// stack. SavedContext holds the parent's context as it was at entry so a
// failing child leaves the parent untouched.
type WorkflowFrame struct {
	WorkflowID   string         `json:"workflowId"`
	NodeID       string         `json:"nodeId"`
	SavedContext map[string]any `json:"savedContext,omitempty"`
}

// Well-known context keys.
const (
	KeyLastUtterance = "lastUtterance"
	KeyLastAgent     = "lastAgent"
	KeyUserIntent    = "userIntent"
	KeyVerified      = "verified"
	KeyTaskCompleted = "taskCompleted"
	// KeyLastError holds the failure message of the most recent tool
	// invocation that exhausted its retries and took an onError edge.
	KeyLastError = "lastError"
)

// Message is one entry in the session transcript. ID makes transcript
// replay idempotent: appending a message whose ID is already present is a
// no-op.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the mutable state of one conversation. It is exclusively
// owned by the agent currently serving the session; ownership transfers
// atomically through the registry on handoff. Version increases on every
// mutation and drives the registry's compare-and-swap.
type SessionState struct {
	SessionID     string `json:"sessionId"`
	WorkflowID    string `json:"workflowId"`
	CurrentNodeID string `json:"currentNodeId"`

	Status ExecutionStatus `json:"status"`

	Messages []Message      `json:"messages,omitempty"`
	Context  map[string]any `json:"context,omitempty"`

	// History records visited node IDs for loop detection and debugging.
	History []string `json:"history,omitempty"`

	// Frames is the explicit sub-workflow call stack. The innermost run is
	// (WorkflowID, CurrentNodeID); each frame saves the parent position to
	// return to. Keeping the stack in the state makes suspension inside a
	// sub-workflow survive persistence and handoffs.
	Frames []WorkflowFrame `json:"frames,omitempty"`

	// SubWorkflowDepth mirrors len(Frames); it is the bounded counter the
	// depth invariant is enforced on.
	SubWorkflowDepth int `json:"subWorkflowDepth"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSessionState creates a fresh state positioned at the workflow start.
func NewSessionState(sessionID, workflowID, startNodeID string) *SessionState {
	return &SessionState{
		SessionID:     sessionID,
		WorkflowID:    workflowID,
		CurrentNodeID: startNodeID,
		Status:        StatusActive,
		Context:       make(map[string]any),
		History:       []string{startNodeID},
		Version:       1,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Clone returns a copy with deep-copied context, messages and history so
// the original can be mutated safely on an independent path.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	next := *s
	next.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		next.Context[k] = v
	}
	next.Messages = append([]Message(nil), s.Messages...)
	next.History = append([]string(nil), s.History...)
	next.Frames = make([]WorkflowFrame, len(s.Frames))
	for i, f := range s.Frames {
		saved := make(map[string]any, len(f.SavedContext))
		for k, v := range f.SavedContext {
			saved[k] = v
		}
		next.Frames[i] = WorkflowFrame{WorkflowID: f.WorkflowID, NodeID: f.NodeID, SavedContext: saved}
	}
	return &next
}

// Bump increments the version and refreshes the mutation timestamp. Every
// state mutation must go through Bump before persisting.
func (s *SessionState) Bump() {
	s.Version++
	s.UpdatedAt = time.Now().UTC()
}

// AppendMessage appends a transcript entry unless one with the same ID is
// already present. It returns true if the message was added.
func (s *SessionState) AppendMessage(m Message) bool {
	if m.ID != "" {
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if s.Messages[i].ID == m.ID {
				return false
			}
		}
	}
	s.Messages = append(s.Messages, m)
	s.Bump()
	return true
}

// VisitNode moves the cursor to nodeID and records it in History.
func (s *SessionState) VisitNode(nodeID string) {
	s.CurrentNodeID = nodeID
	s.History = append(s.History, nodeID)
	s.Bump()
}

// SetContext stores a context value.
func (s *SessionState) SetContext(key string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
	s.Bump()
}

// Snapshot captures the transferable portion of the state for a handoff.
func (s *SessionState) Snapshot() ContextSnapshot {
	c := s.Clone()
	return ContextSnapshot{
		WorkflowID:    c.WorkflowID,
		CurrentNodeID: c.CurrentNodeID,
		Status:        c.Status,
		Context:       c.Context,
		Messages:      c.Messages,
		History:       c.History,
		Frames:        c.Frames,
		Depth:         c.SubWorkflowDepth,
		Version:       c.Version,
	}
}

// ContextSnapshot is the immutable session context carried by a handoff.
type ContextSnapshot struct {
	WorkflowID    string          `json:"workflowId"`
	CurrentNodeID string          `json:"currentNodeId"`
	Status        ExecutionStatus `json:"status"`
	Context       map[string]any  `json:"context,omitempty"`
	Messages      []Message       `json:"messages,omitempty"`
	History       []string        `json:"history,omitempty"`
	Frames        []WorkflowFrame `json:"frames,omitempty"`
	Depth         int             `json:"depth"`
	Version       int64           `json:"version"`
}

// Restore materializes a SessionState from a snapshot, e.g. on the target
// agent of a handoff.
func (c ContextSnapshot) Restore(sessionID string) *SessionState {
	s := &SessionState{
		SessionID:        sessionID,
		WorkflowID:       c.WorkflowID,
		CurrentNodeID:    c.CurrentNodeID,
		Status:           c.Status,
		Context:          c.Context,
		Messages:         c.Messages,
		History:          c.History,
		Frames:           c.Frames,
		SubWorkflowDepth: c.Depth,
		Version:          c.Version,
		UpdatedAt:        time.Now().UTC(),
	}
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	return s
}
