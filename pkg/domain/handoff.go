package domain

import "time"

// HandoffPhase is the lifecycle position of an in-flight handoff.
type HandoffPhase string

const (
	PhaseRequested  HandoffPhase = "requested"
	PhaseValidating HandoffPhase = "validating"
	PhaseCommitting HandoffPhase = "committing"
	PhaseAcked      HandoffPhase = "acked"
	PhaseFailed     HandoffPhase = "failed"
)

// HandoffRequest asks the routing engine to migrate a session to another
// agent. Immutable once created; a retry is a new request with the same
// SessionID and an incremented Attempt.
type HandoffRequest struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	FromAgentID string          `json:"fromAgent"`
	ToAgentID   string          `json:"toAgent"`
	Reason      string          `json:"reason,omitempty"`
	Snapshot    ContextSnapshot `json:"context"`
	Attempt     int             `json:"attempt"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// Retry derives the next attempt of a failed request.
func (r HandoffRequest) Retry() HandoffRequest {
	next := r
	next.Attempt++
	next.RequestedAt = time.Now().UTC()
	return next
}

// Wire message types exchanged between agents and the gateway.
const (
	WireHandoffRequest = "handoff_request"
	WireSessionInit    = "session_init"
	WireSessionAck     = "session_ack"
	WireRelease        = "session_release"
	WireUtterance      = "utterance"
	WireAgentSay       = "agent_say"
	WireError          = "error"
)

// Envelope is the wire frame carried over the gateway's channels.
type Envelope struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId"`
	FromAgent string           `json:"fromAgent,omitempty"`
	ToAgent   string           `json:"toAgent,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Context   *ContextSnapshot `json:"context,omitempty"`
	Text      string           `json:"text,omitempty"`
	MessageID string           `json:"messageId,omitempty"`
}

// Consultation is a time-boxed question from one agent to another that
// does not transfer session ownership.
type Consultation struct {
	SessionID string `json:"sessionId"`
	FromAgent string `json:"fromAgent"`
	ToAgent   string `json:"toAgent"`
	Question  string `json:"question"`
}

// ConsultationResult is the answer to a Consultation. Cached per session
// for identical repeated questions.
type ConsultationResult struct {
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answeredAt"`
}
