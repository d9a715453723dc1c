// Package decision is the engine façade: given an intent and a runtime
// context it searches the knowledge store for candidate templates, runs
// the evaluator committee over each, selects the best non-vetoed
// candidate, and compiles it into an execution plan. A well-formed
// request always yields a structured result; absence of a viable
// candidate is an explained outcome, not an error.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxon/praxon/pkg/evaluate"
	"github.com/praxon/praxon/pkg/journal"
	"github.com/praxon/praxon/pkg/knowledge"
	"github.com/praxon/praxon/pkg/plan"
	"github.com/praxon/praxon/pkg/telemetry"
)

// Outcome classifies the result of a decision request.
type Outcome string

const (
	// OutcomeSelected means a viable candidate was found and compiled.
	OutcomeSelected Outcome = "selected"

	// OutcomeNoCandidates means nothing in the store matched the intent.
	OutcomeNoCandidates Outcome = "no_candidates"

	// OutcomeAllVetoed means every candidate was vetoed or inviable.
	OutcomeAllVetoed Outcome = "all_vetoed"
)

// Candidate is one considered template with its evaluation detail.
type Candidate struct {
	// TemplateID and Name identify the template.
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`

	// Relevance is the search ranking score.
	Relevance int `json:"relevance"`

	// Status is the template's lifecycle status at decision time.
	Status knowledge.TemplateStatus `json:"status"`

	// Scores holds the per-evaluator scores.
	Scores map[string]float64 `json:"scores"`

	// Aggregate is the product of the four scores, zero under veto.
	Aggregate float64 `json:"aggregate"`

	// Vetoed, VetoSource and VetoReason carry the veto determination.
	Vetoed     bool   `json:"vetoed"`
	VetoSource string `json:"veto_source,omitempty"`
	VetoReason string `json:"veto_reason,omitempty"`
}

// Result is the structured outcome of one decision request.
type Result struct {
	// Intent echoes the requested intent.
	Intent string `json:"intent"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`

	// Candidates lists every considered template in ranked order.
	Candidates []Candidate `json:"candidates"`

	// Selected is the chosen candidate, nil unless Outcome is selected.
	Selected *Candidate `json:"selected,omitempty"`

	// Plan is the compiled execution plan for the selected candidate.
	Plan *plan.Plan `json:"plan,omitempty"`

	// Explanation is a human-readable account of the outcome.
	Explanation string `json:"explanation"`

	// Duration is how long the decision took.
	Duration time.Duration `json:"duration"`
}

// Config configures the decision engine. Journal and Metrics are optional.
type Config struct {
	Store    *knowledge.Store
	Logger   zerolog.Logger
	Journal  *journal.Journal
	Metrics  *telemetry.Metrics
	Compiler *plan.Compiler
	Executor *plan.Executor
}

// Engine searches, evaluates, selects, and compiles.
type Engine struct {
	store        *knowledge.Store
	orchestrator *evaluate.Orchestrator
	compiler     *plan.Compiler
	executor     *plan.Executor
	journal      *journal.Journal
	metrics      *telemetry.Metrics
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// NewEngine creates a decision engine over the store.
func NewEngine(cfg Config) *Engine {
	compiler := cfg.Compiler
	if compiler == nil {
		compiler = plan.NewCompiler(cfg.Store, cfg.Logger)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &telemetry.Metrics{}
	}
	executor := cfg.Executor
	if executor == nil {
		executor = plan.NewExecutor(plan.ExecutorConfig{Logger: cfg.Logger})
	}
	return &Engine{
		store:        cfg.Store,
		orchestrator: evaluate.NewOrchestrator(cfg.Store, cfg.Logger),
		compiler:     compiler,
		executor:     executor,
		journal:      cfg.Journal,
		metrics:      metrics,
		logger:       cfg.Logger.With().Str("component", "decision").Logger(),
		tracer:       otel.Tracer("praxon/decision"),
	}
}

// Compiler exposes the engine's plan compiler, shared so that callers can
// invalidate cached translations after template mutations.
func (e *Engine) Compiler() *plan.Compiler { return e.compiler }

// Decide resolves an intent against the knowledge store. Every considered
// candidate is evaluated by the committee; the best non-vetoed active
// candidate is selected and compiled. The result explains itself in all
// three outcomes. An error is returned only for an empty intent.
func (e *Engine) Decide(ctx context.Context, intent string, attrs *knowledge.Attrs) (*Result, error) {
	if strings.TrimSpace(intent) == "" {
		return nil, knowledge.NewValidationError("intent must not be empty", nil)
	}

	ctx, span := e.tracer.Start(ctx, "decision.decide",
		trace.WithAttributes(attribute.String("decision.intent", intent)))
	defer span.End()

	started := time.Now()
	result := &Result{Intent: intent}

	matches := e.store.FindByContextScored(intent)
	if len(matches) == 0 {
		result.Outcome = OutcomeNoCandidates
		result.Explanation = fmt.Sprintf("no stored template matches the intention %q", intent)
		e.finish(ctx, result, started, span)
		return result, nil
	}

	for _, m := range matches {
		eval := e.orchestrator.Evaluate(ctx, m.Template, attrs, intent)

		cand := Candidate{
			TemplateID: m.Template.ID,
			Name:       m.Template.Name,
			Relevance:  m.Relevance,
			Status:     m.Template.Status,
			Scores:     eval.Scores(),
			Aggregate:  eval.Aggregate,
			Vetoed:     eval.Veto.Vetoed,
			VetoSource: eval.Veto.Source,
			VetoReason: eval.Veto.Reason,
		}
		e.metrics.RecordEvaluation(eval.Verdict(), eval.Aggregate, eval.Veto.Source)
		result.Candidates = append(result.Candidates, cand)
	}

	// Selection order: aggregate, then search relevance, then ranked
	// position. The sort is stable so equal candidates keep their
	// search order.
	ranked := make([]int, len(result.Candidates))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ca, cb := result.Candidates[ranked[a]], result.Candidates[ranked[b]]
		if ca.Aggregate != cb.Aggregate {
			return ca.Aggregate > cb.Aggregate
		}
		return ca.Relevance > cb.Relevance
	})

	for _, idx := range ranked {
		cand := result.Candidates[idx]
		if cand.Vetoed || cand.Aggregate <= 0 {
			continue
		}
		compiled, err := e.compiler.Translate(cand.TemplateID)
		if err != nil {
			// Not active or gone since the search snapshot. The next
			// candidate may still serve.
			e.logger.Debug().Err(err).Str("template", cand.Name).Msg("Candidate not executable")
			continue
		}
		result.Outcome = OutcomeSelected
		result.Selected = &result.Candidates[idx]
		result.Plan = compiled
		result.Explanation = fmt.Sprintf(
			"selected %q (aggregate %.4f) with %d step(s)",
			cand.Name, cand.Aggregate, compiled.TotalSteps())
		e.finish(ctx, result, started, span)
		return result, nil
	}

	result.Outcome = OutcomeAllVetoed
	result.Explanation = e.explainRejections(result.Candidates)
	e.finish(ctx, result, started, span)
	return result, nil
}

// explainRejections renders a per-candidate account of why nothing was
// selectable.
func (e *Engine) explainRejections(candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("no viable candidate:")
	for _, c := range candidates {
		switch {
		case c.Vetoed:
			fmt.Fprintf(&b, " %q vetoed by %s (%s);", c.Name, c.VetoSource, c.VetoReason)
		case c.Aggregate <= 0:
			fmt.Fprintf(&b, " %q scored zero;", c.Name)
		case c.Status != knowledge.StatusActive:
			fmt.Fprintf(&b, " %q is %s;", c.Name, c.Status)
		default:
			fmt.Fprintf(&b, " %q not executable;", c.Name)
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (e *Engine) finish(ctx context.Context, result *Result, started time.Time, span trace.Span) {
	result.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("decision.outcome", string(result.Outcome)),
		attribute.Int("decision.candidates", len(result.Candidates)),
	)
	e.metrics.RecordDecision(string(result.Outcome), len(result.Candidates), result.Duration)

	selectedID := ""
	if result.Selected != nil {
		selectedID = result.Selected.TemplateID
	}
	e.logger.Info().
		Str("intent", result.Intent).
		Str("outcome", string(result.Outcome)).
		Int("candidates", len(result.Candidates)).
		Str("selected", selectedID).
		Msg("Decision complete")

	if e.journal != nil {
		detail, err := json.Marshal(result.Candidates)
		if err != nil {
			detail = []byte("[]")
		}
		rec := journal.DecisionRecord{
			Intent:     result.Intent,
			Outcome:    string(result.Outcome),
			TemplateID: selectedID,
			Candidates: len(result.Candidates),
			Detail:     string(detail),
		}
		if err := e.journal.AppendDecision(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to journal decision")
		}
	}
}
