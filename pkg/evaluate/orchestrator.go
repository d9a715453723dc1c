package evaluate

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Result is the aggregated outcome of running all four evaluators against
// one template.
type Result struct {
	// TemplateID names the evaluated template.
	TemplateID string `json:"template_id"`

	// Evaluations holds each evaluator's result keyed by evaluator name.
	Evaluations map[string]Evaluation `json:"evaluations"`

	// Aggregate is the product of the four scores. A veto forces it to
	// exactly zero regardless of the individual values.
	Aggregate float64 `json:"aggregate"`

	// Veto carries the veto determination. When several evaluators veto
	// simultaneously the source follows the fixed priority order, never
	// arrival order, so results stay deterministic across runs.
	Veto knowledge.VetoStatus `json:"veto"`
}

// Scores returns the per-evaluator scores keyed by evaluator name.
func (r Result) Scores() map[string]float64 {
	out := make(map[string]float64, len(r.Evaluations))
	for name, ev := range r.Evaluations {
		out[name] = ev.Score
	}
	return out
}

// Verdict renders the result as a verdict string for the template record.
func (r Result) Verdict() string {
	if r.Veto.Vetoed {
		return "VETO:" + r.Veto.Source
	}
	return "NOMINAL"
}

// Orchestrator runs the four evaluators concurrently and aggregates their
// scores multiplicatively. When a store is configured, every evaluation is
// written back onto the template record.
type Orchestrator struct {
	store      *knowledge.Store
	evaluators []Evaluator
	pattern    Pattern
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewOrchestrator creates an orchestrator over the standard evaluator set.
// The store may be nil for write-back-free evaluation.
func NewOrchestrator(store *knowledge.Store, logger zerolog.Logger) *Orchestrator {
	// Slice order is the fixed veto priority.
	return newOrchestrator(store, []Evaluator{
		Intention{},
		Equilibrium{},
		Robustness{},
		Pattern{},
	}, logger)
}

// newOrchestrator builds an orchestrator over an explicit evaluator set.
// Tests use it to evaluate synthetic score profiles.
func newOrchestrator(store *knowledge.Store, evaluators []Evaluator, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		evaluators: evaluators,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		tracer:     otel.Tracer("praxon/evaluate"),
	}
}

// Evaluate runs all four evaluators concurrently against the template,
// joins their results, and computes the aggregate. The per-evaluator
// scores, the aggregate, and the veto determination are written back onto
// the store's template record when a store is configured.
func (o *Orchestrator) Evaluate(ctx context.Context, tpl *knowledge.Template, attrs *knowledge.Attrs, intent string) Result {
	_, span := o.tracer.Start(ctx, "evaluate.template",
		trace.WithAttributes(
			attribute.String("template.id", tpl.ID),
			attribute.String("template.name", tpl.Name),
		))
	defer span.End()

	// Fan out. Evaluators are pure, so they share the template safely.
	results := make([]Evaluation, len(o.evaluators))
	var wg sync.WaitGroup
	for i, ev := range o.evaluators {
		wg.Add(1)
		go func(i int, ev Evaluator) {
			defer wg.Done()
			results[i] = ev.Evaluate(tpl, attrs, intent)
		}(i, ev)
	}
	wg.Wait()

	result := Result{
		TemplateID:  tpl.ID,
		Evaluations: make(map[string]Evaluation, len(results)),
	}
	for _, ev := range results {
		result.Evaluations[ev.Evaluator] = ev
	}
	result.Aggregate, result.Veto = aggregate(results)

	span.SetAttributes(
		attribute.Float64("evaluate.aggregate", result.Aggregate),
		attribute.Bool("evaluate.vetoed", result.Veto.Vetoed),
	)

	if o.store != nil {
		if err := o.store.RecordEvaluation(tpl.ID, result.Scores(), result.Aggregate, result.Veto, result.Verdict()); err != nil {
			o.logger.Warn().Err(err).
				Str("template", tpl.Name).
				Msg("Failed to record evaluation on template")
		}
	}

	o.logger.Debug().
		Str("template", tpl.Name).
		Float64("aggregate", result.Aggregate).
		Bool("vetoed", result.Veto.Vetoed).
		Msg("Template evaluated")

	return result
}

// aggregate multiplies the scores and resolves the veto determination.
// Any veto, and any zero score, forces the aggregate to exactly zero. The
// priority order of the evaluator slice decides the reported veto source
// when several veto simultaneously.
func aggregate(results []Evaluation) (float64, knowledge.VetoStatus) {
	product := 1.0
	for _, ev := range results {
		product *= ev.Score
	}
	for _, ev := range results {
		if ev.IsVeto || ev.Score == 0 {
			return 0, knowledge.VetoStatus{
				Vetoed: true,
				Source: ev.Evaluator,
				Reason: ev.VetoReason,
			}
		}
	}
	return product, knowledge.VetoStatus{}
}

// Proposals returns the pattern evaluator's improvement proposals for a
// template. Proposals are consultative only.
func (o *Orchestrator) Proposals(tpl *knowledge.Template) []Proposal {
	return o.pattern.ProposeImprovements(tpl)
}

// Explain renders a human-readable breakdown of a result.
func Explain(r Result) string {
	out := fmt.Sprintf("aggregate %.4f", r.Aggregate)
	for _, name := range []string{NameIntention, NameEquilibrium, NameRobustness, NamePattern} {
		ev, ok := r.Evaluations[name]
		if !ok {
			continue
		}
		mark := ""
		if ev.IsVeto {
			mark = " [veto]"
		}
		out += fmt.Sprintf("; %s %.3f%s", name, ev.Score, mark)
	}
	if r.Veto.Vetoed {
		out += fmt.Sprintf("; vetoed by %s: %s", r.Veto.Source, r.Veto.Reason)
	}
	return out
}
