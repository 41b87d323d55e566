package executor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// stepSubWorkflow enters a nested workflow by pushing a frame onto the
// explicit call stack. The child then runs inside the same loop; its
// terminal node triggers returnFromSubWorkflow. Keeping the stack in the
// state (rather than recursing natively) lets a suspension inside the
// child survive persistence and handoffs.
func (e *Engine) stepSubWorkflow(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node, cfg domain.SubWorkflowConfig) (bool, error) {
	e.emit(ctx, res, state, node, domain.EventNodeEnter, cfg.WorkflowRef)

	if state.SubWorkflowDepth >= domain.MaxSubWorkflowDepth {
		err := &domain.RecursionLimitError{NodeID: node.ID, Depth: state.SubWorkflowDepth}
		return e.routeSubWorkflowError(state, node, err)
	}

	child, err := e.loader.Load(ctx, cfg.WorkflowRef)
	if err != nil {
		return e.routeSubWorkflowError(state, node, err)
	}

	saved := make(map[string]any, len(state.Context))
	for k, v := range state.Context {
		saved[k] = v
	}
	state.Frames = append(state.Frames, domain.WorkflowFrame{
		WorkflowID:   state.WorkflowID,
		NodeID:       node.ID,
		SavedContext: saved,
	})
	state.SubWorkflowDepth++
	state.WorkflowID = child.ID
	state.VisitNode(child.StartNodeID)
	return true, nil
}

// routeSubWorkflowError follows the node's "error" edge if declared,
// leaving the parent context untouched; otherwise the error surfaces.
func (e *Engine) routeSubWorkflowError(state *domain.SessionState, node *domain.Node, cause error) (bool, error) {
	if edge, ok := node.EdgeByLabel("error"); ok {
		e.logger.Warn("sub-workflow entry failed, following error edge",
			"session", state.SessionID,
			"node", node.ID,
			"err", cause,
		)
		state.VisitNode(edge.Target)
		return true, nil
	}
	return false, cause
}

// returnFromSubWorkflow pops the innermost frame after the child reached
// terminal node outcomeNodeID, merges the child's context contribution
// into the restored parent context and advances the parent along the edge
// the outcome maps to.
func (e *Engine) returnFromSubWorkflow(ctx context.Context, res *Result, state *domain.SessionState, outcomeNodeID string) error {
	frame := state.Frames[len(state.Frames)-1]
	state.Frames = state.Frames[:len(state.Frames)-1]
	state.SubWorkflowDepth--

	parentWf, err := e.loader.Load(ctx, frame.WorkflowID)
	if err != nil {
		return err
	}
	parentNode, ok := parentWf.Node(frame.NodeID)
	if !ok {
		return fmt.Errorf("session %s: sub-workflow frame references unknown node %q", state.SessionID, frame.NodeID)
	}
	cfg, ok := parentNode.Config.(domain.SubWorkflowConfig)
	if !ok {
		return fmt.Errorf("session %s: frame node %q is not a sub-workflow node", state.SessionID, frame.NodeID)
	}

	state.Context = mergeChildContext(frame.SavedContext, state.Context, cfg.MergeKeys)
	state.WorkflowID = frame.WorkflowID
	state.Bump()

	edge, ok := outcomeEdge(parentNode, cfg, outcomeNodeID)
	if !ok {
		// Sub-workflow node used as a tail call: the parent ends with the
		// child. Cascade the terminal outward through any remaining frames.
		state.CurrentNodeID = parentNode.ID
		if len(state.Frames) > 0 {
			return e.returnFromSubWorkflow(ctx, res, state, parentNode.ID)
		}
		state.Status = domain.StatusTerminated
		state.Bump()
		e.emit(ctx, res, state, parentNode, domain.EventTerminal, outcomeNodeID)
		res.Terminated = true
		return nil
	}

	e.emit(ctx, res, state, parentNode, domain.EventResume, outcomeNodeID)
	state.VisitNode(edge.Target)
	return nil
}

// outcomeEdge maps the child's terminal node ID to a parent edge. The
// outcomeMapping wins; otherwise the first edge in declaration order.
func outcomeEdge(node *domain.Node, cfg domain.SubWorkflowConfig, outcomeNodeID string) (domain.Edge, bool) {
	if label, ok := cfg.OutcomeMapping[outcomeNodeID]; ok {
		return node.EdgeByLabel(label)
	}
	if len(node.Edges) > 0 {
		return node.Edges[0], true
	}
	return domain.Edge{}, false
}

// mergeChildContext restores the parent's saved context and overlays the
// child's contribution: the listed mergeKeys, or every key the child
// added or changed when none are listed.
func mergeChildContext(saved, child map[string]any, mergeKeys []string) map[string]any {
	merged := make(map[string]any, len(saved))
	for k, v := range saved {
		merged[k] = v
	}

	if len(mergeKeys) > 0 {
		for _, k := range mergeKeys {
			if v, ok := child[k]; ok {
				merged[k] = v
			}
		}
		return merged
	}

	for k, v := range child {
		if old, existed := saved[k]; !existed || !reflect.DeepEqual(old, v) {
			merged[k] = v
		}
	}
	return merged
}
