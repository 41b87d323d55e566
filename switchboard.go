// Package switchboard is a multi-agent conversational platform: a
// gateway routes user sessions to specialist agents, each agent drives a
// declarative workflow graph, and a routing engine migrates sessions
// between agents mid-conversation without losing context.
//
// The building blocks live in pkg/: domain types, the workflow parser
// and loader, the graph executor, the decision evaluator, the session
// registry, the routing engine, the agent runtime and the gateway.
package switchboard

// Version is the release version stamped into banners and server
// handshakes.
const Version = "0.3.0"
