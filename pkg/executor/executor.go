// Package executor advances session state through a workflow graph one
// step at a time. A run progresses until it suspends (awaiting the next
// user utterance), terminates, or fails with a typed error. Within one
// session, steps are strictly ordered: a step runs to completion before
// the next begins.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/pkg/decision"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// Evaluator resolves decision nodes. *decision.Evaluator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt string, sessionContext map[string]any, labels []string, defaultLabel string) (decision.Evaluation, error)
}

// Defaults for node-level policies.
const (
	DefaultMaxRetries  = 2
	DefaultToolTimeout = 5 * time.Second
	DefaultBackoffBase = 100 * time.Millisecond
	DefaultMaxSteps    = 256
)

// Engine executes workflow graphs. It holds no per-session state; the
// same Engine serves many concurrent sessions, each session's steps
// serialized by the caller.
type Engine struct {
	loader    ports.WorkflowLoader
	tools     ports.ToolInvoker
	evaluator Evaluator
	hooks     domain.StepHooks
	logger    *slog.Logger

	maxRetries  int
	toolTimeout time.Duration
	backoffBase time.Duration
	maxSteps    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHooks installs step observability callbacks.
func WithHooks(hooks domain.StepHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithMaxRetries sets the default retry budget for tool and evaluator
// calls. A node-level maxRetries overrides it.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithToolTimeout sets the default per-attempt deadline for tool calls.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) { e.toolTimeout = d }
}

// WithBackoffBase sets the first retry delay; subsequent delays double.
func WithBackoffBase(d time.Duration) Option {
	return func(e *Engine) { e.backoffBase = d }
}

// WithMaxSteps bounds the number of node transitions per run segment,
// guarding against authoring loops that never suspend.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// New creates an Engine.
func New(loader ports.WorkflowLoader, tools ports.ToolInvoker, evaluator Evaluator, opts ...Option) *Engine {
	e := &Engine{
		loader:      loader,
		tools:       tools,
		evaluator:   evaluator,
		logger:      logging.NewNop(),
		maxRetries:  DefaultMaxRetries,
		toolTimeout: DefaultToolTimeout,
		backoffBase: DefaultBackoffBase,
		maxSteps:    DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the product of one run segment.
type Result struct {
	Events []domain.StepEvent

	// Suspended means the run is waiting for the next user utterance.
	Suspended bool
	// Terminated means the outermost workflow reached a terminal node.
	Terminated bool
}

// Utterance is one finalized user input. MessageID makes replay
// idempotent: resuming twice with the same ID applies the input once.
type Utterance struct {
	MessageID string
	Text      string
}

// Start creates a fresh session state for the workflow and runs it until
// the first suspension or termination.
func (e *Engine) Start(ctx context.Context, sessionID, workflowRef string) (*domain.SessionState, *Result, error) {
	wf, err := e.loader.Load(ctx, workflowRef)
	if err != nil {
		return nil, nil, err
	}

	state := domain.NewSessionState(sessionID, wf.ID, wf.StartNodeID)
	res, err := e.run(ctx, state)
	return state, res, err
}

// Resume applies a user utterance to a session suspended at an input node
// and continues the run. A replayed utterance (same MessageID) is a no-op.
func (e *Engine) Resume(ctx context.Context, state *domain.SessionState, input Utterance) (*Result, error) {
	if state.Status != domain.StatusWaitingInput {
		return nil, fmt.Errorf("session %s is not awaiting input (status %s)", state.SessionID, state.Status)
	}

	wf, err := e.loader.Load(ctx, state.WorkflowID)
	if err != nil {
		return nil, err
	}
	node, ok := wf.Node(state.CurrentNodeID)
	if !ok {
		return nil, fmt.Errorf("session %s references unknown node %q", state.SessionID, state.CurrentNodeID)
	}
	cfg, ok := node.Config.(domain.InputConfig)
	if !ok {
		return nil, fmt.Errorf("session %s suspended at non-input node %q", state.SessionID, state.CurrentNodeID)
	}

	msgID := input.MessageID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	added := state.AppendMessage(domain.Message{
		ID:        msgID,
		Role:      "user",
		Text:      input.Text,
		Timestamp: time.Now().UTC(),
	})
	if !added {
		// Replay of an already-applied transcript event.
		e.logger.Debug("ignoring replayed utterance", "session", state.SessionID, "message_id", msgID)
		return &Result{}, nil
	}

	res := &Result{}
	e.emit(ctx, res, state, node, domain.EventResume, input.Text)

	if cfg.SaveTo != "" {
		state.SetContext(cfg.SaveTo, input.Text)
	}
	state.SetContext(domain.KeyLastUtterance, input.Text)
	state.Status = domain.StatusActive

	// Input nodes have exactly one edge (validated at load).
	state.VisitNode(node.Edges[0].Target)

	cont, err := e.run(ctx, state)
	if cont != nil {
		res.Events = append(res.Events, cont.Events...)
		res.Suspended = cont.Suspended
		res.Terminated = cont.Terminated
	}
	return res, err
}

// run advances the state until suspension, termination or failure.
func (e *Engine) run(ctx context.Context, state *domain.SessionState) (*Result, error) {
	res := &Result{}

	for steps := 0; steps < e.maxSteps; steps++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		wf, err := e.loader.Load(ctx, state.WorkflowID)
		if err != nil {
			return res, err
		}
		node, ok := wf.Node(state.CurrentNodeID)
		if !ok {
			return res, fmt.Errorf("session %s references unknown node %q in workflow %q", state.SessionID, state.CurrentNodeID, state.WorkflowID)
		}

		advanced, err := e.step(ctx, res, state, node)
		if err != nil {
			e.emit(ctx, res, state, node, domain.EventStepError, err.Error())
			return res, err
		}
		if res.Suspended || res.Terminated {
			return res, nil
		}
		if !advanced {
			// Terminal node inside a sub-workflow: pop the saved frame.
			if len(state.Frames) > 0 {
				if err := e.returnFromSubWorkflow(ctx, res, state, node.ID); err != nil {
					return res, err
				}
				if res.Terminated {
					return res, nil
				}
				continue
			}
			state.Status = domain.StatusTerminated
			state.Bump()
			e.emit(ctx, res, state, node, domain.EventTerminal, nil)
			res.Terminated = true
			return res, nil
		}
	}

	return res, fmt.Errorf("session %s exceeded %d steps without suspending (workflow loop?)", state.SessionID, e.maxSteps)
}

// emit appends a step event and fires the matching hook.
func (e *Engine) emit(ctx context.Context, res *Result, state *domain.SessionState, node *domain.Node, t domain.StepEventType, output any) {
	ev := domain.StepEvent{
		Type:      t,
		SessionID: state.SessionID,
		NodeID:    node.ID,
		NodeType:  node.Type,
		EnteredAt: time.Now().UTC(),
		Output:    output,
	}
	res.Events = append(res.Events, ev)

	switch t {
	case domain.EventNodeEnter:
		if e.hooks.OnNodeEnter != nil {
			e.hooks.OnNodeEnter(ctx, &ev)
		}
	case domain.EventToolCall:
		if e.hooks.OnToolCall != nil {
			e.hooks.OnToolCall(ctx, &ev)
		}
	case domain.EventToolReturn:
		if e.hooks.OnToolReturn != nil {
			e.hooks.OnToolReturn(ctx, &ev)
		}
	case domain.EventDecision:
		if e.hooks.OnDecision != nil {
			e.hooks.OnDecision(ctx, &ev)
		}
	case domain.EventTerminal:
		if e.hooks.OnTerminal != nil {
			e.hooks.OnTerminal(ctx, &ev)
		}
	}
}
