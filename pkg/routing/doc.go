// Package routing is the single authority that changes which agent owns
// a session. A handoff walks Requested -> Validating -> Committing ->
// Acked | Failed: validation checks target health, current ownership and
// the loop history; commit swaps ownership through the registry's
// compare-and-swap and waits, bounded, for the target's session_ack. The
// source agent is told to release its exclusive resources (speech
// session included) only after that ack, so the user never hears a gap.
// A failed handoff leaves ownership with the source agent.
package routing
