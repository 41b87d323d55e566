package domain

// NodeType identifies the control-flow behavior of a node.
type NodeType string

const (
	// NodeTypeMessage emits text and advances along its single edge.
	NodeTypeMessage NodeType = "message"
	// NodeTypeInput halts the run until the next user utterance arrives.
	NodeTypeInput NodeType = "input"
	// NodeTypeTool invokes an external side-effect and stores its result.
	NodeTypeTool NodeType = "tool"
	// NodeTypeDecision selects an outgoing edge via an external classifier.
	NodeTypeDecision NodeType = "decision"
	// NodeTypeSubWorkflow runs a nested workflow to completion.
	NodeTypeSubWorkflow NodeType = "subworkflow"
)

// Edge is a labeled transition to another node. Label may be empty for
// single-edge nodes that advance unconditionally.
type Edge struct {
	Label  string `json:"label,omitempty"`
	Target string `json:"target"`
}

// NodeConfig is the closed set of type-specific node payloads. Exactly one
// concrete config exists per NodeType; the executor switches exhaustively
// over them.
type NodeConfig interface {
	nodeConfig()
}

// MessageConfig holds the text a message node emits. Text supports no
// templating at this layer; interpolation is an authoring concern.
type MessageConfig struct {
	Text string `json:"text" mapstructure:"text"`
}

// InputConfig describes how a user utterance is captured.
type InputConfig struct {
	Prompt string `json:"prompt,omitempty" mapstructure:"prompt"`
	// SaveTo names the context key the utterance is stored under. The raw
	// utterance is always mirrored into context under KeyLastUtterance.
	SaveTo string `json:"saveTo,omitempty" mapstructure:"saveTo"`
}

// ToolConfig describes an external tool invocation.
type ToolConfig struct {
	ToolName string `json:"toolName" mapstructure:"toolName"`
	// InputMapping maps tool argument names to context keys.
	InputMapping map[string]string `json:"inputMapping,omitempty" mapstructure:"inputMapping"`
	// SaveTo names the context key the result is stored under. Defaults to
	// the tool name when empty.
	SaveTo string `json:"saveTo,omitempty" mapstructure:"saveTo"`
	// MaxRetries bounds re-invocations after the first failure. Zero means
	// use the executor default.
	MaxRetries int `json:"maxRetries,omitempty" mapstructure:"maxRetries"`
	// TimeoutMS is the per-attempt deadline in milliseconds. Zero means use
	// the executor default.
	TimeoutMS int `json:"timeoutMs,omitempty" mapstructure:"timeoutMs"`
	// OnError names the edge label followed after retry exhaustion. Empty
	// surfaces a ToolExecutionError instead.
	OnError string `json:"onError,omitempty" mapstructure:"onError"`
}

// DecisionConfig describes an externally-classified branch point.
type DecisionConfig struct {
	Prompt           string `json:"prompt" mapstructure:"prompt"`
	DefaultEdgeLabel string `json:"defaultEdgeLabel,omitempty" mapstructure:"defaultEdgeLabel"`
}

// SubWorkflowConfig describes a nested workflow invocation.
type SubWorkflowConfig struct {
	WorkflowRef string `json:"workflowRef" mapstructure:"workflowRef"`
	// OutcomeMapping maps the sub-workflow's terminal node ID to a parent
	// edge label.
	OutcomeMapping map[string]string `json:"outcomeMapping,omitempty" mapstructure:"outcomeMapping"`
	// MergeKeys lists child context keys merged back into the parent on
	// success. Empty means merge every key the child added or changed.
	MergeKeys []string `json:"mergeKeys,omitempty" mapstructure:"mergeKeys"`
}

func (MessageConfig) nodeConfig()     {}
func (InputConfig) nodeConfig()       {}
func (ToolConfig) nodeConfig()        {}
func (DecisionConfig) nodeConfig()    {}
func (SubWorkflowConfig) nodeConfig() {}

// Node is a single unit in a workflow graph.
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Edges []Edge   `json:"edges,omitempty"`

	// Config holds the type-specific payload matching Type.
	Config NodeConfig `json:"-"`
}

// IsTerminal reports whether the node has no outgoing edges.
func (n *Node) IsTerminal() bool {
	return len(n.Edges) == 0
}

// EdgeByLabel returns the first edge whose label matches exactly.
// Declaration order breaks ties between duplicate labels.
func (n *Node) EdgeByLabel(label string) (Edge, bool) {
	for _, e := range n.Edges {
		if e.Label == label {
			return e, true
		}
	}
	return Edge{}, false
}

// Workflow is an immutable workflow definition. It is shared read-only
// across concurrent session executions; nothing mutates it after load.
type Workflow struct {
	ID          string           `json:"id"`
	StartNodeID string           `json:"startNodeId"`
	Nodes       map[string]*Node `json:"-"`
}

// Node returns the node with the given ID.
func (w *Workflow) Node(id string) (*Node, bool) {
	n, ok := w.Nodes[id]
	return n, ok
}
