// Package agent is the runtime shell a specialist agent runs inside. It
// owns the inbound event queue, drives the workflow executor, persists
// state through the session registry, and issues handoffs when the
// conversation's routed intent belongs to another agent. Events for one
// session are consumed by a single goroutine, so executor steps never
// interleave within a session.
package agent
