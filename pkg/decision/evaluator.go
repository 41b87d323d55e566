// Package decision resolves a decision node's outgoing edge by matching a
// free-form classification result against the node's edge labels.
package decision

import (
	"context"
	"log/slog"
	"strings"

	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/pkg/domain"
	"github.com/relaydesk/switchboard/pkg/ports"
)

// Rationale values reported on an Evaluation.
const (
	RationaleExactMatch       = "exact_match"
	RationaleContainmentMatch = "containment_match"
	RationaleNoMatchFallback  = "no_match_fallback"
)

// Evaluation is the outcome of resolving a decision node.
type Evaluation struct {
	SelectedLabel string  `json:"selectedLabel"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// Evaluator maps classifier output onto edge labels. A no-match condition
// is not an error: the evaluation falls back to the default label with
// rationale "no_match_fallback". Only a failing classifier surfaces an
// error, as *domain.EvaluatorUnavailableError.
type Evaluator struct {
	classifier ports.Classifier
	logger     *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator creates an Evaluator over the given classifier.
func NewEvaluator(classifier ports.Classifier, opts ...Option) *Evaluator {
	e := &Evaluator{
		classifier: classifier,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate invokes the classifier once and resolves its answer to one of
// labels. Match preference: exact case-insensitive, then containment, then
// defaultLabel. The returned label is empty only when nothing matched and
// no default was declared; the executor turns that into an
// UnresolvedEdgeError.
func (e *Evaluator) Evaluate(ctx context.Context, prompt string, sessionContext map[string]any, labels []string, defaultLabel string) (Evaluation, error) {
	result, err := e.classifier.Classify(ctx, ports.ClassifyRequest{
		Prompt:  prompt,
		Context: sessionContext,
		Labels:  labels,
	})
	if err != nil {
		return Evaluation{}, &domain.EvaluatorUnavailableError{Cause: err}
	}

	answer := strings.ToLower(strings.TrimSpace(result.Text))

	for _, label := range labels {
		if answer == strings.ToLower(label) {
			return Evaluation{
				SelectedLabel: label,
				Confidence:    result.Confidence,
				Rationale:     RationaleExactMatch,
			}, nil
		}
	}

	// Containment: the answer mentions a label somewhere. Declaration
	// order breaks ties deterministically.
	for _, label := range labels {
		if strings.Contains(answer, strings.ToLower(label)) {
			return Evaluation{
				SelectedLabel: label,
				Confidence:    result.Confidence,
				Rationale:     RationaleContainmentMatch,
			}, nil
		}
	}

	e.logger.Debug("decision fell back to default label",
		"answer", result.Text,
		"default", defaultLabel,
	)
	return Evaluation{
		SelectedLabel: defaultLabel,
		Confidence:    0,
		Rationale:     RationaleNoMatchFallback,
	}, nil
}
