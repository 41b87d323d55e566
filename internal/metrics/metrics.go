// Package metrics exposes the platform's Prometheus instrumentation:
// session gauges, handoff outcomes and latency, and executor step
// counters.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaydesk/switchboard/pkg/domain"
)

// Metrics bundles the platform collectors. It implements
// routing.Observer and supplies executor step hooks.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	Handoffs        *prometheus.CounterVec
	HandoffDuration prometheus.Histogram
	HandoffAttempts prometheus.Histogram
	Steps           *prometheus.CounterVec
	ToolCalls       prometheus.Counter
	Decisions       prometheus.Counter
}

// New registers the collectors with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_active_sessions",
			Help: "Number of live conversation sessions.",
		}),
		Handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_handoffs_total",
			Help: "Completed handoffs by outcome.",
		}, []string{"outcome"}),
		HandoffDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "switchboard_handoff_duration_seconds",
			Help: "End-to-end handoff latency, request to ack or failure.",
			// The ack budget is 500ms per attempt; buckets bracket it.
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		HandoffAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_handoff_attempts",
			Help:    "Attempts consumed per completed handoff.",
			Buckets: []float64{1, 2, 3},
		}),
		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_workflow_steps_total",
			Help: "Workflow nodes entered, by node type.",
		}, []string{"node_type"}),
		ToolCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_tool_calls_total",
			Help: "Tool invocations attempted by workflow tool nodes.",
		}),
		Decisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_decisions_total",
			Help: "Decision nodes evaluated.",
		}),
	}
}

// HandoffCompleted implements routing.Observer.
func (m *Metrics) HandoffCompleted(outcome string, attempts int, duration time.Duration) {
	m.Handoffs.WithLabelValues(outcome).Inc()
	m.HandoffDuration.Observe(duration.Seconds())
	m.HandoffAttempts.Observe(float64(attempts))
}

// Hooks returns executor step hooks feeding the step counters.
func (m *Metrics) Hooks() domain.StepHooks {
	return domain.StepHooks{
		OnNodeEnter: func(_ context.Context, ev *domain.StepEvent) {
			m.Steps.WithLabelValues(string(ev.NodeType)).Inc()
		},
		OnToolCall: func(context.Context, *domain.StepEvent) {
			m.ToolCalls.Inc()
		},
		OnDecision: func(context.Context, *domain.StepEvent) {
			m.Decisions.Inc()
		},
	}
}
