package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// step executes the node under the cursor. It returns true when the
// cursor advanced to another node. A false return with no suspension
// means the node is terminal for its workflow.
func (e *Engine) step(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node) (bool, error) {
	switch cfg := node.Config.(type) {
	case domain.MessageConfig:
		return e.stepMessage(ctx, res, state, node, cfg), nil
	case domain.InputConfig:
		e.stepInput(ctx, res, state, node, cfg)
		return false, nil
	case domain.ToolConfig:
		return e.stepTool(ctx, res, state, node, cfg)
	case domain.DecisionConfig:
		return e.stepDecision(ctx, res, state, node, cfg)
	case domain.SubWorkflowConfig:
		return e.stepSubWorkflow(ctx, res, state, node, cfg)
	default:
		return false, fmt.Errorf("node %q has no config for type %q", node.ID, node.Type)
	}
}

func (e *Engine) stepMessage(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node, cfg domain.MessageConfig) bool {
	e.emit(ctx, res, state, node, domain.EventNodeEnter, cfg.Text)

	state.AppendMessage(domain.Message{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Text:      cfg.Text,
		Timestamp: time.Now().UTC(),
	})

	if node.IsTerminal() {
		return false
	}
	state.VisitNode(node.Edges[0].Target)
	return true
}

func (e *Engine) stepInput(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node, cfg domain.InputConfig) {
	e.emit(ctx, res, state, node, domain.EventNodeEnter, cfg.Prompt)

	if cfg.Prompt != "" {
		state.AppendMessage(domain.Message{
			ID:        uuid.NewString(),
			Role:      "assistant",
			Text:      cfg.Prompt,
			Timestamp: time.Now().UTC(),
		})
	}

	state.Status = domain.StatusWaitingInput
	state.Bump()
	e.emit(ctx, res, state, node, domain.EventSuspend, nil)
	res.Suspended = true
}

func (e *Engine) stepDecision(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node, cfg domain.DecisionConfig) (bool, error) {
	e.emit(ctx, res, state, node, domain.EventNodeEnter, nil)

	labels := make([]string, 0, len(node.Edges))
	for _, edge := range node.Edges {
		if edge.Label != "" {
			labels = append(labels, edge.Label)
		}
	}

	var eval decisionEval
	_, err := e.withRetry(ctx, e.maxRetries, func(ctx context.Context) error {
		v, err := e.evaluator.Evaluate(ctx, cfg.Prompt, state.Context, labels, cfg.DefaultEdgeLabel)
		if err != nil {
			return err
		}
		eval = decisionEval{v.SelectedLabel, v.Confidence, v.Rationale}
		return nil
	})
	if err != nil {
		return false, err
	}

	if eval.SelectedLabel == "" {
		return false, &domain.UnresolvedEdgeError{NodeID: node.ID}
	}
	edge, ok := node.EdgeByLabel(eval.SelectedLabel)
	if !ok {
		return false, &domain.UnresolvedEdgeError{NodeID: node.ID, Label: eval.SelectedLabel}
	}

	e.emit(ctx, res, state, node, domain.EventDecision, eval)
	state.SetContext(domain.KeyUserIntent, eval.SelectedLabel)
	state.VisitNode(edge.Target)
	return true, nil
}

// decisionEval mirrors decision.Evaluation for event output without
// importing the package into event consumers.
type decisionEval struct {
	SelectedLabel string  `json:"selectedLabel"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}
