// Package registry is the authoritative view of sessions and agents: who
// owns which session, which agents are alive, and the persisted session
// memory. All cross-process mutation funnels through its compare-and-swap
// ownership primitive; there is no other shared mutable state between
// agent processes.
package registry
