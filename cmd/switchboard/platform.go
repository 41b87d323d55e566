package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"

	"github.com/relaydesk/switchboard/internal/config"
	"github.com/relaydesk/switchboard/internal/metrics"
	"github.com/relaydesk/switchboard/pkg/adapters/mcptool"
	"github.com/relaydesk/switchboard/pkg/adapters/memory"
	redisadapter "github.com/relaydesk/switchboard/pkg/adapters/redis"
	"github.com/relaydesk/switchboard/pkg/agent"
	"github.com/relaydesk/switchboard/pkg/decision"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/executor"
	"github.com/relaydesk/switchboard/pkg/ports"
	"github.com/relaydesk/switchboard/pkg/registry"
	"github.com/relaydesk/switchboard/pkg/routing"
	"github.com/relaydesk/switchboard/pkg/workflow"
)

// platform bundles the wired components shared by serve and chat.
type platform struct {
	registry *registry.Registry
	engine   *routing.Engine
	client   *agent.LocalClient
	runtimes []*agent.Runtime
	metrics  *metrics.Metrics
	prom     *prometheus.Registry
}

// buildPlatform wires stores, executor, routing engine and agent runtimes
// from the configuration. sink receives user-facing envelopes.
func buildPlatform(ctx context.Context, cfg *config.Config, sink agent.Emitter, logger *slog.Logger) (*platform, error) {
	var (
		sessions  ports.SessionStore
		ownership ports.OwnershipStore
		directory ports.AgentDirectory
		regOpts   []registry.Option
	)
	regOpts = append(regOpts, registry.WithLogger(logger))

	if cfg.Redis.Addr != "" {
		rdb := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		storeOpts := []redisadapter.Option{
			redisadapter.WithTTL(cfg.SessionTTL.Std(redisadapter.DefaultSessionTTL)),
		}
		if cfg.Redis.Prefix != "" {
			storeOpts = append(storeOpts, redisadapter.WithPrefix(cfg.Redis.Prefix))
		}
		sessions = redisadapter.NewSessionStore(rdb, storeOpts...)
		// Owner records share the session TTL so neither outlives the other.
		ownership = redisadapter.NewOwnershipStore(rdb, cfg.Redis.Prefix,
			redisadapter.WithOwnershipTTL(cfg.SessionTTL.Std(redisadapter.DefaultSessionTTL)))
		directory = redisadapter.NewDirectory(rdb, cfg.Redis.Prefix)
		regOpts = append(regOpts, registry.WithLocker(redisadapter.NewLocker(rdb, cfg.Redis.Prefix)))
		logger.Info("using redis stores", "addr", cfg.Redis.Addr)
	} else {
		sessions = memory.NewSessionStore(memory.WithTTL(cfg.SessionTTL.Std(time.Hour)))
		ownership = memory.NewOwnershipStore()
		directory = memory.NewDirectory()
		logger.Info("using in-memory stores")
	}

	reg := registry.New(sessions, ownership, directory, regOpts...)

	prom := prometheus.NewRegistry()
	m := metrics.New(prom)

	loader := workflow.NewFileLoader(cfg.WorkflowsDir)

	var tools ports.ToolInvoker
	if cfg.ToolServer.Command != "" {
		invoker, err := mcptool.NewStdioInvoker(ctx, cfg.ToolServer.Command, cfg.ToolServer.Env, cfg.ToolServer.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect tool server: %w", err)
		}
		tools = invoker
	} else {
		tools = ports.ToolFunc(func(_ context.Context, toolName string, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("no tool server configured for tool %q", toolName)
		})
	}

	// The default classifier feeds the last utterance back to the
	// evaluator's label matcher. Deployments with an LLM collaborator
	// replace it via their own wiring.
	classifier := ports.ClassifierFunc(func(_ context.Context, req ports.ClassifyRequest) (ports.ClassifyResult, error) {
		text, _ := req.Context[domain.KeyLastUtterance].(string)
		return ports.ClassifyResult{Text: text, Confidence: 0.5}, nil
	})
	evaluator := decision.NewEvaluator(classifier, decision.WithLogger(logger))

	exec := executor.New(loader, tools, evaluator,
		executor.WithLogger(logger),
		executor.WithHooks(m.Hooks()),
	)

	client := agent.NewLocalClient(sink)
	engine := routing.NewEngine(reg, client, routing.Config{
		AckTimeout:         cfg.Handoff.AckTimeout.Std(0),
		MaxAttempts:        cfg.Handoff.MaxAttempts,
		LoopWindow:         cfg.Handoff.LoopWindow.Std(0),
		FallbackCapability: cfg.Handoff.FallbackCapability,
		ConsultTimeout:     cfg.Handoff.ConsultTimeout.Std(0),
	}, routing.WithLogger(logger), routing.WithObserver(m))

	p := &platform{
		registry: reg,
		engine:   engine,
		client:   client,
		metrics:  m,
		prom:     prom,
	}

	for _, ac := range cfg.Agents {
		rt := agent.New(agent.Config{
			AgentID:      ac.ID,
			Capabilities: ac.Capabilities,
			WorkflowRef:  ac.Workflow,
			Routes:       ac.Routes,
			QueueSize:    ac.QueueSize,
		}, exec, reg, engine, client.Emitter(), agent.WithLogger(logger))

		if err := rt.Register(ctx); err != nil {
			return nil, fmt.Errorf("failed to register agent %q: %w", ac.ID, err)
		}
		client.Attach(rt)
		p.runtimes = append(p.runtimes, rt)
	}
	return p, nil
}

// close shuts down all runtimes.
func (p *platform) close() {
	for _, rt := range p.runtimes {
		rt.Close()
	}
}
