package workflow

import (
	"fmt"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// validate performs the structural checks a schema cannot express:
// resolvable start node, no dangling edge targets, and per-type config
// coherence.
func validate(wf *domain.Workflow) error {
	fail := func(format string, args ...any) error {
		return &domain.InvalidWorkflowError{
			WorkflowID: wf.ID,
			Reason:     fmt.Sprintf(format, args...),
		}
	}

	if _, ok := wf.Nodes[wf.StartNodeID]; !ok {
		return fail("start node %q not defined", wf.StartNodeID)
	}

	for _, node := range wf.Nodes {
		for _, e := range node.Edges {
			if _, ok := wf.Nodes[e.Target]; !ok {
				return fail("node %q: edge %q targets undefined node %q", node.ID, e.Label, e.Target)
			}
		}

		switch cfg := node.Config.(type) {
		case domain.MessageConfig:
			if len(node.Edges) > 1 {
				return fail("message node %q must have at most one edge", node.ID)
			}
		case domain.InputConfig:
			if len(node.Edges) != 1 {
				return fail("input node %q must have exactly one edge", node.ID)
			}
		case domain.ToolConfig:
			if cfg.ToolName == "" {
				return fail("tool node %q is missing toolName", node.ID)
			}
			if cfg.OnError != "" {
				if _, ok := node.EdgeByLabel(cfg.OnError); !ok {
					return fail("tool node %q: onError label %q matches no edge", node.ID, cfg.OnError)
				}
			}
		case domain.DecisionConfig:
			if len(node.Edges) == 0 {
				return fail("decision node %q has no edges", node.ID)
			}
			if cfg.DefaultEdgeLabel != "" {
				if _, ok := node.EdgeByLabel(cfg.DefaultEdgeLabel); !ok {
					return fail("decision node %q: default label %q matches no edge", node.ID, cfg.DefaultEdgeLabel)
				}
			}
		case domain.SubWorkflowConfig:
			if cfg.WorkflowRef == "" {
				return fail("subworkflow node %q is missing workflowRef", node.ID)
			}
			for outcome, label := range cfg.OutcomeMapping {
				if _, ok := node.EdgeByLabel(label); !ok {
					return fail("subworkflow node %q: outcome %q maps to unknown edge label %q", node.ID, outcome, label)
				}
			}
		default:
			return fail("node %q has no config for type %q", node.ID, node.Type)
		}
	}

	return nil
}
