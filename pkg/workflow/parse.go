package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/relaydesk/switchboard/pkg/domain"
)

type fileNode struct {
	ID    string        `json:"id"`
	Type  string        `json:"type"`
	Edges []domain.Edge `json:"edges"`

	// Extra captures the type-specific fields for mapstructure decoding.
	Extra map[string]any `json:"-"`
}

type fileWorkflow struct {
	ID          string            `json:"id"`
	StartNodeID string            `json:"startNodeId"`
	Nodes       []json.RawMessage `json:"nodes"`
}

// Parse decodes and fully validates a workflow definition document.
func Parse(raw []byte) (*domain.Workflow, error) {
	var doc fileWorkflow
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.InvalidWorkflowError{Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	if err := checkSchema(doc.ID, raw); err != nil {
		return nil, err
	}

	wf := &domain.Workflow{
		ID:          doc.ID,
		StartNodeID: doc.StartNodeID,
		Nodes:       make(map[string]*domain.Node, len(doc.Nodes)),
	}

	for _, rawNode := range doc.Nodes {
		node, err := parseNode(doc.ID, rawNode)
		if err != nil {
			return nil, err
		}
		if _, dup := wf.Nodes[node.ID]; dup {
			return nil, &domain.InvalidWorkflowError{
				WorkflowID: doc.ID,
				Reason:     fmt.Sprintf("duplicate node ID %q", node.ID),
			}
		}
		wf.Nodes[node.ID] = node
	}

	if err := validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func parseNode(workflowID string, raw json.RawMessage) (*domain.Node, error) {
	var fn fileNode
	if err := json.Unmarshal(raw, &fn); err != nil {
		return nil, &domain.InvalidWorkflowError{WorkflowID: workflowID, Reason: err.Error()}
	}
	if err := json.Unmarshal(raw, &fn.Extra); err != nil {
		return nil, &domain.InvalidWorkflowError{WorkflowID: workflowID, Reason: err.Error()}
	}
	delete(fn.Extra, "id")
	delete(fn.Extra, "type")
	delete(fn.Extra, "edges")

	config, err := decodeConfig(domain.NodeType(fn.Type), fn.Extra)
	if err != nil {
		return nil, &domain.InvalidWorkflowError{
			WorkflowID: workflowID,
			Reason:     fmt.Sprintf("node %q: %v", fn.ID, err),
		}
	}

	return &domain.Node{
		ID:     fn.ID,
		Type:   domain.NodeType(fn.Type),
		Edges:  fn.Edges,
		Config: config,
	}, nil
}

// decodeConfig maps the type-specific fields onto the closed config
// variant for the node type. The switch is exhaustive over domain.NodeType;
// the schema check already rejected unknown types.
func decodeConfig(t domain.NodeType, extra map[string]any) (domain.NodeConfig, error) {
	switch t {
	case domain.NodeTypeMessage:
		var c domain.MessageConfig
		return c, strictDecode(extra, &c)
	case domain.NodeTypeInput:
		var c domain.InputConfig
		return c, strictDecode(extra, &c)
	case domain.NodeTypeTool:
		var c domain.ToolConfig
		return c, strictDecode(extra, &c)
	case domain.NodeTypeDecision:
		var c domain.DecisionConfig
		return c, strictDecode(extra, &c)
	case domain.NodeTypeSubWorkflow:
		var c domain.SubWorkflowConfig
		return c, strictDecode(extra, &c)
	default:
		return nil, fmt.Errorf("unknown node type %q", t)
	}
}

func strictDecode(extra map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(extra)
}
