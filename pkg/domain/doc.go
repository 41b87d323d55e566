// Package domain contains the core types shared across switchboard:
// workflow graphs, session state, agent records, handoff requests and the
// error taxonomy. It has no dependencies on transports or stores; those
// live behind the interfaces in pkg/ports.
package domain
