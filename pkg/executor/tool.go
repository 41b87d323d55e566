package executor

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/switchboard/pkg/domain"
)

func (e *Engine) stepTool(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node, cfg domain.ToolConfig) (bool, error) {
	e.emit(ctx, res, state, node, domain.EventNodeEnter, nil)

	args := make(map[string]any, len(cfg.InputMapping))
	for argName, contextKey := range cfg.InputMapping {
		if v, ok := state.Context[contextKey]; ok {
			args[argName] = v
		}
	}

	timeout := e.toolTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	maxRetries := e.maxRetries
	if cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	var result any
	attempts, err := e.withRetry(ctx, maxRetries, func(ctx context.Context) error {
		e.emit(ctx, res, state, node, domain.EventToolCall, cfg.ToolName)

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var invokeErr error
		result, invokeErr = e.tools.Invoke(callCtx, cfg.ToolName, args)
		return invokeErr
	})

	if err != nil {
		e.logger.Warn("tool exhausted retries",
			"session", state.SessionID,
			"node", node.ID,
			"tool", cfg.ToolName,
			"attempts", attempts,
			"err", err,
		)
		e.emit(ctx, res, state, node, domain.EventToolReturn, err.Error())

		if cfg.OnError != "" {
			edge, _ := node.EdgeByLabel(cfg.OnError)
			state.SetContext(domain.KeyLastError, err.Error())
			state.VisitNode(edge.Target)
			return true, nil
		}
		return false, &domain.ToolExecutionError{
			NodeID:   node.ID,
			ToolName: cfg.ToolName,
			Attempts: attempts,
			Cause:    err,
		}
	}

	e.emit(ctx, res, state, node, domain.EventToolReturn, result)
	state.SetContext(saveKey(cfg), result)

	edge, ok := successEdge(node, cfg)
	if !ok {
		return false, nil
	}
	state.VisitNode(edge.Target)
	return true, nil
}

func saveKey(cfg domain.ToolConfig) string {
	if cfg.SaveTo != "" {
		return cfg.SaveTo
	}
	return cfg.ToolName
}

// successEdge returns the edge followed after a successful invocation:
// the first edge whose label is not the onError label.
func successEdge(node *domain.Node, cfg domain.ToolConfig) (domain.Edge, bool) {
	for _, edge := range node.Edges {
		if cfg.OnError == "" || edge.Label != cfg.OnError {
			return edge, true
		}
	}
	return domain.Edge{}, false
}

// withRetry runs fn up to 1+maxRetries times with exponential backoff,
// honoring ctx cancellation between attempts. It returns the number of
// attempts made. Evaluator unavailability and tool failures (including
// deadline exceedance) are all retryable; context cancellation of the
// whole step is not.
func (e *Engine) withRetry(ctx context.Context, maxRetries int, fn func(context.Context) error) (int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoffBase << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempts, ctx.Err()
			case <-timer.C:
			}
		}

		attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempts, nil
		}
		// The step's own context expiring is final; a per-attempt timeout
		// inside fn shows up here as DeadlineExceeded wrapped by the tool
		// call and remains retryable.
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		var unavailable *domain.EvaluatorUnavailableError
		if errors.As(lastErr, &unavailable) {
			e.logger.Debug("evaluator unavailable, retrying", "attempt", attempts, "err", lastErr)
		}
	}

	return attempts, lastErr
}
