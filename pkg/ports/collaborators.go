package ports

import (
	"context"
	"time"
)

// ToolInvoker executes a named tool with mapped arguments. The caller
// enforces the timeout via ctx; implementations must honor cancellation.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// ToolFunc adapts a plain function to ToolInvoker for in-process tools.
type ToolFunc func(ctx context.Context, toolName string, args map[string]any) (any, error)

// Invoke implements ToolInvoker.
func (f ToolFunc) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	return f(ctx, toolName, args)
}

// ClassifyRequest carries a decision node's prompt, the session context
// and the valid edge labels to the external reasoning collaborator.
type ClassifyRequest struct {
	Prompt  string
	Context map[string]any
	Labels  []string
}

// ClassifyResult is the collaborator's free-form answer. Confidence is 0
// when the collaborator does not report one.
type ClassifyResult struct {
	Text       string
	Confidence float64
}

// Classifier is the external LLM decision collaborator.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	return f(ctx, req)
}

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates session access across replicas. Lock
// blocks until acquired or ctx is canceled; the returned UnlockFunc MUST
// be called to release.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
