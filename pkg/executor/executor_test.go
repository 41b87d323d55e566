package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/pkg/decision"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
	"github.com/relaydesk/switchboard/pkg/workflow"
)

func edge(label, target string) domain.Edge {
	return domain.Edge{Label: label, Target: target}
}

func node(id string, t domain.NodeType, cfg domain.NodeConfig, edges ...domain.Edge) *domain.Node {
	return &domain.Node{ID: id, Type: t, Edges: edges, Config: cfg}
}

func buildWorkflow(id, start string, nodes ...*domain.Node) *domain.Workflow {
	m := make(map[string]*domain.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return &domain.Workflow{ID: id, StartNodeID: start, Nodes: m}
}

// fixedClassifier answers every classification with the same text.
func fixedClassifier(text string) ports.Classifier {
	return ports.ClassifierFunc(func(context.Context, ports.ClassifyRequest) (ports.ClassifyResult, error) {
		return ports.ClassifyResult{Text: text, Confidence: 0.9}, nil
	})
}

func newEngine(t *testing.T, loader ports.WorkflowLoader, tools ports.ToolInvoker, classifier ports.Classifier, opts ...Option) *Engine {
	t.Helper()
	if tools == nil {
		tools = ports.ToolFunc(func(context.Context, string, map[string]any) (any, error) {
			return nil, errors.New("no tools in this test")
		})
	}
	if classifier == nil {
		classifier = fixedClassifier("")
	}
	opts = append([]Option{WithBackoffBase(time.Millisecond)}, opts...)
	return New(loader, tools, decision.NewEvaluator(classifier), opts...)
}

func greetWorkflow() *domain.Workflow {
	return buildWorkflow("greet", "hello",
		node("hello", domain.NodeTypeMessage, domain.MessageConfig{Text: "Hi, how can I help?"}, edge("", "ask")),
		node("ask", domain.NodeTypeInput, domain.InputConfig{SaveTo: "request"}, edge("", "bye")),
		node("bye", domain.NodeTypeMessage, domain.MessageConfig{Text: "Goodbye."}),
	)
}

func TestStartRunsToFirstInput(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(greetWorkflow()), nil, nil)

	state, res, err := e.Start(context.Background(), "s1", "greet")
	require.NoError(t, err)

	assert.True(t, res.Suspended)
	assert.False(t, res.Terminated)
	assert.Equal(t, domain.StatusWaitingInput, state.Status)
	assert.Equal(t, "ask", state.CurrentNodeID)

	require.Len(t, state.Messages, 1)
	assert.Equal(t, "assistant", state.Messages[0].Role)
	assert.Equal(t, "Hi, how can I help?", state.Messages[0].Text)

	types := eventTypes(res.Events)
	assert.Contains(t, types, domain.EventNodeEnter)
	assert.Contains(t, types, domain.EventSuspend)
}

func TestResumeAdvancesToTerminal(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(greetWorkflow()), nil, nil)
	ctx := context.Background()

	state, _, err := e.Start(ctx, "s1", "greet")
	require.NoError(t, err)

	res, err := e.Resume(ctx, state, Utterance{MessageID: "m1", Text: "check my balance"})
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.Equal(t, domain.StatusTerminated, state.Status)
	assert.Equal(t, "check my balance", state.Context["request"])
	assert.Equal(t, "check my balance", state.Context[domain.KeyLastUtterance])

	// user turn plus closing message
	require.Len(t, state.Messages, 3)
	assert.Equal(t, "user", state.Messages[1].Role)
	assert.Equal(t, "Goodbye.", state.Messages[2].Text)
}

func TestResumeReplayIsIdempotent(t *testing.T) {
	wf := buildWorkflow("loopy", "ask",
		node("ask", domain.NodeTypeInput, domain.InputConfig{}, edge("", "echo")),
		node("echo", domain.NodeTypeMessage, domain.MessageConfig{Text: "noted"}, edge("", "ask")),
	)
	e := newEngine(t, workflow.NewStaticLoader(wf), nil, nil)
	ctx := context.Background()

	state, _, err := e.Start(ctx, "s1", "loopy")
	require.NoError(t, err)

	_, err = e.Resume(ctx, state, Utterance{MessageID: "m1", Text: "first"})
	require.NoError(t, err)
	versionAfter := state.Version
	messagesAfter := len(state.Messages)

	// Same transcript event delivered again, e.g. after a reconnect.
	res, err := e.Resume(ctx, state, Utterance{MessageID: "m1", Text: "first"})
	require.NoError(t, err)

	assert.Empty(t, res.Events)
	assert.Equal(t, versionAfter, state.Version)
	assert.Len(t, state.Messages, messagesAfter)
}

func TestResumeRejectsActiveSession(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(greetWorkflow()), nil, nil)
	state := domain.NewSessionState("s1", "greet", "hello")

	_, err := e.Resume(context.Background(), state, Utterance{MessageID: "m1", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting input")
}

func decisionWorkflow(defaultLabel string) *domain.Workflow {
	return buildWorkflow("route", "classify",
		node("classify", domain.NodeTypeDecision,
			domain.DecisionConfig{Prompt: "Which department?", DefaultEdgeLabel: defaultLabel},
			edge("banking", "to_banking"),
			edge("mortgage", "to_mortgage"),
		),
		node("to_banking", domain.NodeTypeMessage, domain.MessageConfig{Text: "banking it is"}),
		node("to_mortgage", domain.NodeTypeMessage, domain.MessageConfig{Text: "mortgage it is"}),
	)
}

func TestDecisionContainmentMatch(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(decisionWorkflow("")), nil,
		fixedClassifier("the user clearly wants Banking services"))

	state, res, err := e.Start(context.Background(), "s1", "route")
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.Equal(t, "to_banking", state.CurrentNodeID)
	assert.Equal(t, "banking", state.Context[domain.KeyUserIntent])
}

func TestDecisionFallsBackToDefault(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(decisionWorkflow("mortgage")), nil,
		fixedClassifier("no idea at all"))

	state, _, err := e.Start(context.Background(), "s1", "route")
	require.NoError(t, err)
	assert.Equal(t, "to_mortgage", state.CurrentNodeID)
}

func TestDecisionUnresolvedWithoutDefault(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(decisionWorkflow("")), nil,
		fixedClassifier("no idea at all"))

	_, _, err := e.Start(context.Background(), "s1", "route")
	var unresolved *domain.UnresolvedEdgeError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "classify", unresolved.NodeID)
}

func TestDecisionRetriesUnavailableEvaluator(t *testing.T) {
	calls := 0
	classifier := ports.ClassifierFunc(func(context.Context, ports.ClassifyRequest) (ports.ClassifyResult, error) {
		calls++
		if calls < 3 {
			return ports.ClassifyResult{}, errors.New("collaborator down")
		}
		return ports.ClassifyResult{Text: "banking"}, nil
	})
	e := newEngine(t, workflow.NewStaticLoader(decisionWorkflow("")), nil, classifier)

	state, _, err := e.Start(context.Background(), "s1", "route")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "to_banking", state.CurrentNodeID)
}

func toolWorkflow(onError string) *domain.Workflow {
	edges := []domain.Edge{edge("ok", "done")}
	if onError != "" {
		edges = append(edges, edge(onError, "apology"))
	}
	return buildWorkflow("lookup", "fetch",
		node("fetch", domain.NodeTypeTool, domain.ToolConfig{
			ToolName:     "balance_lookup",
			InputMapping: map[string]string{"account": "accountId"},
			SaveTo:       "balance",
			OnError:      onError,
		}, edges...),
		node("done", domain.NodeTypeMessage, domain.MessageConfig{Text: "here you go"}),
		node("apology", domain.NodeTypeMessage, domain.MessageConfig{Text: "sorry, try later"}),
	)
}

func TestToolSuccessSavesResult(t *testing.T) {
	var gotArgs map[string]any
	tools := ports.ToolFunc(func(_ context.Context, name string, args map[string]any) (any, error) {
		gotArgs = args
		return map[string]any{"amount": 42.5}, nil
	})
	e := newEngine(t, workflow.NewStaticLoader(toolWorkflow("failed")), tools, nil)

	state, _, err := e.Start(context.Background(), "s1", "lookup")
	require.NoError(t, err)

	// InputMapping only passes keys present in context; accountId was not.
	assert.Empty(t, gotArgs)
	assert.Equal(t, map[string]any{"amount": 42.5}, state.Context["balance"])
	assert.Equal(t, "done", state.CurrentNodeID)
}

func TestToolRetriesThenFollowsOnError(t *testing.T) {
	calls := 0
	tools := ports.ToolFunc(func(context.Context, string, map[string]any) (any, error) {
		calls++
		return nil, errors.New("upstream 503")
	})
	e := newEngine(t, workflow.NewStaticLoader(toolWorkflow("failed")), tools, nil)

	state, res, err := e.Start(context.Background(), "s1", "lookup")
	require.NoError(t, err)

	// Default budget: first call plus two retries.
	assert.Equal(t, 3, calls)
	assert.Equal(t, "apology", state.CurrentNodeID)
	assert.Contains(t, state.Context[domain.KeyLastError], "upstream 503")
	assert.True(t, res.Terminated)
}

func TestToolFailureWithoutOnErrorSurfaces(t *testing.T) {
	tools := ports.ToolFunc(func(context.Context, string, map[string]any) (any, error) {
		return nil, errors.New("upstream 503")
	})
	e := newEngine(t, workflow.NewStaticLoader(toolWorkflow("")), tools, nil)

	_, _, err := e.Start(context.Background(), "s1", "lookup")
	var toolErr *domain.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "balance_lookup", toolErr.ToolName)
	assert.Equal(t, 3, toolErr.Attempts)
}

func TestToolTimeoutIsRetryable(t *testing.T) {
	calls := 0
	tools := ports.ToolFunc(func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "fine", nil
	})
	wf := buildWorkflow("slow", "fetch",
		node("fetch", domain.NodeTypeTool, domain.ToolConfig{
			ToolName:  "slow_tool",
			TimeoutMS: 10,
		}, edge("", "done")),
		node("done", domain.NodeTypeMessage, domain.MessageConfig{Text: "done"}),
	)
	e := newEngine(t, workflow.NewStaticLoader(wf), tools, nil)

	state, _, err := e.Start(context.Background(), "s1", "slow")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "fine", state.Context["slow_tool"])
}

func TestRunAbortsOnWorkflowLoop(t *testing.T) {
	wf := buildWorkflow("spin", "a",
		node("a", domain.NodeTypeMessage, domain.MessageConfig{Text: "a"}, edge("", "b")),
		node("b", domain.NodeTypeMessage, domain.MessageConfig{Text: "b"}, edge("", "a")),
	)
	e := newEngine(t, workflow.NewStaticLoader(wf), nil, nil, WithMaxSteps(10))

	_, _, err := e.Start(context.Background(), "s1", "spin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 10 steps")
}

func eventTypes(events []domain.StepEvent) []domain.StepEventType {
	out := make([]domain.StepEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestHistoryRecordsVisits(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(greetWorkflow()), nil, nil)
	ctx := context.Background()

	state, _, err := e.Start(ctx, "s1", "greet")
	require.NoError(t, err)
	_, err = e.Resume(ctx, state, Utterance{MessageID: "m1", Text: "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", "ask", "bye"}, state.History)
}

func TestStartUnknownWorkflow(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(), nil, nil)
	_, _, err := e.Start(context.Background(), "s1", "nope")
	require.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestEventsAreOrderedPerSession(t *testing.T) {
	e := newEngine(t, workflow.NewStaticLoader(greetWorkflow()), nil, nil)

	_, res, err := e.Start(context.Background(), "s1", "greet")
	require.NoError(t, err)

	for i := 1; i < len(res.Events); i++ {
		assert.False(t, res.Events[i].EnteredAt.Before(res.Events[i-1].EnteredAt),
			fmt.Sprintf("event %d precedes event %d", i, i-1))
	}
}
