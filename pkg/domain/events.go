package domain

import (
	"context"
	"time"
)

// StepEventType categorizes executor step events.
type StepEventType string

const (
	EventNodeEnter  StepEventType = "node_enter"
	EventSuspend    StepEventType = "suspend"
	EventResume     StepEventType = "resume"
	EventToolCall   StepEventType = "tool_call"
	EventToolReturn StepEventType = "tool_return"
	EventDecision   StepEventType = "decision"
	EventTerminal   StepEventType = "terminal"
	EventStepError  StepEventType = "step_error"
)

// StepEvent is one entry in a session's strictly-ordered step stream.
type StepEvent struct {
	Type      StepEventType `json:"type"`
	SessionID string        `json:"sessionId"`
	NodeID    string        `json:"nodeId"`
	NodeType  NodeType      `json:"nodeType"`
	EnteredAt time.Time     `json:"enteredAt"`

	// Output carries the node's visible product: emitted text for message
	// nodes, the selected label for decisions, the result for tools.
	Output any `json:"output,omitempty"`

	Err error `json:"-"`
}

// StepHooks are optional callbacks for executor observability. Nil hooks
// are skipped.
type StepHooks struct {
	OnNodeEnter  func(context.Context, *StepEvent)
	OnToolCall   func(context.Context, *StepEvent)
	OnToolReturn func(context.Context, *StepEvent)
	OnDecision   func(context.Context, *StepEvent)
	OnTerminal   func(context.Context, *StepEvent)
}
