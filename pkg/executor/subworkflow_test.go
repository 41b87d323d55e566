package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
	"github.com/relaydesk/switchboard/pkg/workflow"
)

// verifyChild is a sub-workflow that records a verification result and
// finishes at one of two terminal nodes.
func verifyChild(pass bool) *domain.Workflow {
	target := "approved"
	if !pass {
		target = "rejected"
	}
	return buildWorkflow("verify", "check",
		node("check", domain.NodeTypeTool, domain.ToolConfig{
			ToolName: "identity_check",
			SaveTo:   domain.KeyVerified,
		}, edge("", target)),
		node("approved", domain.NodeTypeMessage, domain.MessageConfig{Text: "you are verified"}),
		node("rejected", domain.NodeTypeMessage, domain.MessageConfig{Text: "verification failed"}),
	)
}

func parentWithSub() *domain.Workflow {
	return buildWorkflow("banking", "verify_first",
		node("verify_first", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{
			WorkflowRef: "verify",
			OutcomeMapping: map[string]string{
				"approved": "ok",
				"rejected": "denied",
			},
			MergeKeys: []string{domain.KeyVerified},
		}, edge("ok", "serve"), edge("denied", "refuse")),
		node("serve", domain.NodeTypeMessage, domain.MessageConfig{Text: "what do you need?"}),
		node("refuse", domain.NodeTypeMessage, domain.MessageConfig{Text: "cannot proceed"}),
	)
}

func TestSubWorkflowOutcomeMappingAndMerge(t *testing.T) {
	tools := ports.ToolFunc(func(context.Context, string, map[string]any) (any, error) {
		return true, nil
	})
	e := newEngine(t, workflow.NewStaticLoader(parentWithSub(), verifyChild(true)), tools, nil)

	state, res, err := e.Start(context.Background(), "s1", "banking")
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.Equal(t, "serve", state.CurrentNodeID)
	assert.Equal(t, "banking", state.WorkflowID)
	assert.Empty(t, state.Frames)
	assert.Zero(t, state.SubWorkflowDepth)
	// The merge key came back from the child.
	assert.Equal(t, true, state.Context[domain.KeyVerified])
}

func TestSubWorkflowMergeKeysFilterChildContext(t *testing.T) {
	tools := ports.ToolFunc(func(_ context.Context, name string, _ map[string]any) (any, error) {
		return "scratch", nil
	})
	child := buildWorkflow("verify", "check",
		node("check", domain.NodeTypeTool, domain.ToolConfig{
			ToolName: "identity_check",
			SaveTo:   "internal_scratch",
		}, edge("", "approved")),
		node("approved", domain.NodeTypeMessage, domain.MessageConfig{Text: "ok"}),
	)
	e := newEngine(t, workflow.NewStaticLoader(parentWithSub(), child), tools, nil)

	state, _, err := e.Start(context.Background(), "s1", "banking")
	require.NoError(t, err)

	// Only the declared merge keys survive the return.
	_, leaked := state.Context["internal_scratch"]
	assert.False(t, leaked)
}

func TestSubWorkflowSuspensionSurvivesInChild(t *testing.T) {
	child := buildWorkflow("verify", "ask_pin",
		node("ask_pin", domain.NodeTypeInput, domain.InputConfig{Prompt: "PIN please", SaveTo: "pin"}, edge("", "approved")),
		node("approved", domain.NodeTypeMessage, domain.MessageConfig{Text: "ok"}),
	)
	e := newEngine(t, workflow.NewStaticLoader(parentWithSub(), child), nil, nil)
	ctx := context.Background()

	state, res, err := e.Start(ctx, "s1", "banking")
	require.NoError(t, err)

	// Suspended inside the child with the frame stack persisted in state.
	assert.True(t, res.Suspended)
	assert.Equal(t, "verify", state.WorkflowID)
	assert.Equal(t, "ask_pin", state.CurrentNodeID)
	require.Len(t, state.Frames, 1)
	assert.Equal(t, "banking", state.Frames[0].WorkflowID)
	assert.Equal(t, 1, state.SubWorkflowDepth)

	// A snapshot round trip (as a handoff would do) keeps the stack.
	restored := state.Snapshot().Restore(state.SessionID)
	res2, err := e.Resume(ctx, restored, Utterance{MessageID: "m1", Text: "1234"})
	require.NoError(t, err)

	assert.True(t, res2.Terminated)
	assert.Equal(t, "banking", restored.WorkflowID)
	assert.Equal(t, "serve", restored.CurrentNodeID)
	assert.Empty(t, restored.Frames)
	assert.Equal(t, "1234", restored.Context["pin"])
}

func TestSubWorkflowDepthLimit(t *testing.T) {
	// Each level calls the next; level 3 exceeds the depth bound and has no
	// error edge, so the limit surfaces.
	l0 := buildWorkflow("l0", "call", node("call", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "l1"}, edge("", "end")), node("end", domain.NodeTypeMessage, domain.MessageConfig{Text: "."}))
	l1 := buildWorkflow("l1", "call", node("call", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "l2"}, edge("", "end")), node("end", domain.NodeTypeMessage, domain.MessageConfig{Text: "."}))
	l2 := buildWorkflow("l2", "call", node("call", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "l3"}, edge("", "end")), node("end", domain.NodeTypeMessage, domain.MessageConfig{Text: "."}))
	l3 := buildWorkflow("l3", "call", node("call", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "l0"}, edge("", "end")), node("end", domain.NodeTypeMessage, domain.MessageConfig{Text: "."}))

	e := newEngine(t, workflow.NewStaticLoader(l0, l1, l2, l3), nil, nil)

	_, _, err := e.Start(context.Background(), "s1", "l0")
	var limit *domain.RecursionLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, domain.MaxSubWorkflowDepth, limit.Depth)
}

func TestSubWorkflowDepthLimitFollowsErrorEdge(t *testing.T) {
	rec := buildWorkflow("rec", "call",
		node("call", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "rec"},
			edge("", "deeper"), edge("error", "bail")),
		node("deeper", domain.NodeTypeMessage, domain.MessageConfig{Text: "deeper"}),
		node("bail", domain.NodeTypeMessage, domain.MessageConfig{Text: "too deep, stopping"}),
	)
	e := newEngine(t, workflow.NewStaticLoader(rec), nil, nil)

	state, res, err := e.Start(context.Background(), "s1", "rec")
	require.NoError(t, err)

	// The deepest level bailed over its error edge, then every outer level
	// unwound normally.
	assert.True(t, res.Terminated)
	assert.Contains(t, state.History, "bail")
	assert.Empty(t, state.Frames)
	assert.Zero(t, state.SubWorkflowDepth)
}

func TestSubWorkflowUnknownRefFollowsErrorEdge(t *testing.T) {
	parent := buildWorkflow("p", "call",
		node("call", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "ghost"},
			edge("ok", "fine"), edge("error", "bail")),
		node("fine", domain.NodeTypeMessage, domain.MessageConfig{Text: "fine"}),
		node("bail", domain.NodeTypeMessage, domain.MessageConfig{Text: "bail"}),
	)
	e := newEngine(t, workflow.NewStaticLoader(parent), nil, nil)

	state, _, err := e.Start(context.Background(), "s1", "p")
	require.NoError(t, err)
	assert.Equal(t, "bail", state.CurrentNodeID)
}

func TestSubWorkflowTailCallCascadesTerminal(t *testing.T) {
	parent := buildWorkflow("p", "hello",
		node("hello", domain.NodeTypeMessage, domain.MessageConfig{Text: "hi"}, edge("", "finish")),
		node("finish", domain.NodeTypeSubWorkflow, domain.SubWorkflowConfig{WorkflowRef: "closing"}),
	)
	child := buildWorkflow("closing", "bye",
		node("bye", domain.NodeTypeMessage, domain.MessageConfig{Text: "goodbye"}),
	)
	e := newEngine(t, workflow.NewStaticLoader(parent, child), nil, nil)

	state, res, err := e.Start(context.Background(), "s1", "p")
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.Equal(t, domain.StatusTerminated, state.Status)
	assert.Equal(t, "p", state.WorkflowID)
	assert.Empty(t, state.Frames)
}
