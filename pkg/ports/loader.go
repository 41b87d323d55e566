package ports

import (
	"context"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// WorkflowLoader resolves workflow references to validated definitions.
// Implementations cache by reference; loading the same ref twice returns
// the same immutable definition.
type WorkflowLoader interface {
	// Load returns the workflow for the given reference (file path or
	// workflow ID). Returns domain.ErrWorkflowNotFound for unknown refs and
	// *domain.InvalidWorkflowError for malformed definitions.
	Load(ctx context.Context, ref string) (*domain.Workflow, error)
}

// Watchable is implemented by loaders that can signal backend changes,
// typically for dev-mode hot reload.
type Watchable interface {
	// Watch returns a channel signaled when the underlying definitions
	// change and a cache flush is required.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
