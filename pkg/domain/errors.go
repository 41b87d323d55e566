package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID is absent from the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrAgentNotFound is returned when an agent ID is absent from the directory.
var ErrAgentNotFound = errors.New("agent not found")

// ErrWorkflowNotFound is returned when a workflow reference cannot be resolved.
var ErrWorkflowNotFound = errors.New("workflow not found")

// InvalidWorkflowError rejects a malformed definition at load time.
type InvalidWorkflowError struct {
	WorkflowID string
	Reason     string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow %q: %s", e.WorkflowID, e.Reason)
}

// UnresolvedEdgeError means no edge matched and no default was declared.
// This is an authoring bug, fatal for the run.
type UnresolvedEdgeError struct {
	NodeID string
	Label  string
}

func (e *UnresolvedEdgeError) Error() string {
	return fmt.Sprintf("node %q has no edge matching label %q and no default", e.NodeID, e.Label)
}

// ToolExecutionError surfaces after the retry budget for a tool node is
// exhausted and no onError edge is declared.
type ToolExecutionError struct {
	NodeID   string
	ToolName string
	Attempts int
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q at node %q failed after %d attempts: %v", e.ToolName, e.NodeID, e.Attempts, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// EvaluatorUnavailableError means the decision collaborator itself failed
// (network, timeout). Retryable through the tool-failure path; distinct
// from a no-match, which falls back to the default label silently.
type EvaluatorUnavailableError struct {
	Cause error
}

func (e *EvaluatorUnavailableError) Error() string {
	return fmt.Sprintf("decision evaluator unavailable: %v", e.Cause)
}

func (e *EvaluatorUnavailableError) Unwrap() error { return e.Cause }

// RecursionLimitError rejects a sub-workflow entry beyond MaxSubWorkflowDepth.
// Fatal for that call only; the parent continues via its error edge.
type RecursionLimitError struct {
	NodeID string
	Depth  int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("sub-workflow at node %q exceeds depth limit (%d)", e.NodeID, e.Depth)
}

// Handoff rejection reasons carried by HandoffValidationError.
const (
	RejectLoopDetected    = "loop_detected"
	RejectTargetUnknown   = "target_unknown"
	RejectTargetUnhealthy = "target_unhealthy"
	RejectStaleOwner      = "stale_owner"
	RejectSelfHandoff     = "self_handoff"
)

// HandoffValidationError means the target is ineligible; the routing
// engine tries the fallback agent next.
type HandoffValidationError struct {
	SessionID string
	Reason    string
}

func (e *HandoffValidationError) Error() string {
	return fmt.Sprintf("handoff rejected for session %q: %s", e.SessionID, e.Reason)
}

// HandoffTimeoutError means the target did not acknowledge session_init
// within the ack budget.
type HandoffTimeoutError struct {
	SessionID string
	ToAgentID string
	Attempt   int
}

func (e *HandoffTimeoutError) Error() string {
	return fmt.Sprintf("handoff to %q timed out for session %q (attempt %d)", e.ToAgentID, e.SessionID, e.Attempt)
}

// SessionConflictError means a registry write lost an optimistic-concurrency
// race. The caller must re-read and retry.
type SessionConflictError struct {
	SessionID       string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session %q version conflict: expected %d, registry has %d", e.SessionID, e.ExpectedVersion, e.ActualVersion)
}
