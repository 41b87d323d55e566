// Package ports defines the interfaces between the switchboard core and
// its collaborators: workflow loading, session persistence, ownership,
// the agent directory, tool execution, decision classification and
// distributed locking. Adapters implement these; the core depends only on
// the interfaces.
package ports
