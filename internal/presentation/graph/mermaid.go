// Package graph renders workflow graphs as Mermaid flowcharts for
// documentation and debugging.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// Overlay highlights dynamic session state on the rendered graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// GenerateMermaid produces Mermaid flowchart syntax for a workflow.
// Shapes follow node semantics:
//   - start node: ((circle))
//   - tool: [[subroutine]]
//   - input: [/parallelogram/]
//   - decision: {diamond}
//   - subworkflow: [[subroutine]] with the referenced workflow annotated
func GenerateMermaid(wf *domain.Workflow, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	ids := make([]string, 0, len(wf.Nodes))
	for id := range wf.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := wf.Nodes[id]
		safeID := sanitizeID(id)

		opener, closer := "[", "]"
		label := id
		switch {
		case id == wf.StartNodeID:
			opener, closer = "((", "))"
		case node.Type == domain.NodeTypeTool:
			opener, closer = "[[", "]]"
			if cfg, ok := node.Config.(domain.ToolConfig); ok {
				label = fmt.Sprintf("%s <br/> tool: %s", id, cfg.ToolName)
			}
		case node.Type == domain.NodeTypeInput:
			opener, closer = "[/", "/]"
		case node.Type == domain.NodeTypeDecision:
			opener, closer = "{", "}"
		case node.Type == domain.NodeTypeSubWorkflow:
			opener, closer = "[[", "]]"
			if cfg, ok := node.Config.(domain.SubWorkflowConfig); ok {
				label = fmt.Sprintf("%s <br/> calls: %s", id, cfg.WorkflowRef)
			}
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		for _, edge := range node.Edges {
			arrow := "-->"
			if edge.Label != "" {
				arrow = fmt.Sprintf("-->|%s|", edge.Label)
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow, sanitizeID(edge.Target))
		}
	}

	if overlay != nil {
		for _, visited := range overlay.VisitedNodes {
			fmt.Fprintf(&sb, "    style %s fill:#dcfce7,stroke:#16a34a\n", sanitizeID(visited))
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    style %s fill:#fef9c3,stroke:#ca8a04,stroke-width:2px\n", sanitizeID(overlay.CurrentNode))
		}
	}
	return sb.String()
}

// sanitizeID strips characters Mermaid treats as syntax.
func sanitizeID(id string) string {
	replacer := strings.NewReplacer("/", "_", ".", "_", " ", "_", "-", "_")
	return replacer.Replace(id)
}
