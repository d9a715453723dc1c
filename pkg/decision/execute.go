package decision

import (
	"context"

	"github.com/praxon/praxon/pkg/journal"
	"github.com/praxon/praxon/pkg/knowledge"
	"github.com/praxon/praxon/pkg/plan"
)

// Execute runs a compiled plan through the engine's executor, records the
// run in the journal, and updates run metrics. Journal failures are logged
// and do not mask the execution result.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, attrs *knowledge.Attrs, dryRun bool) *plan.Result {
	result := e.executor.Execute(ctx, p, attrs, dryRun)

	e.metrics.RecordRunCompleted(string(result.Status), result.Duration)
	for _, step := range result.Steps {
		e.metrics.RecordStepExecuted(string(step.Status), step.Duration)
	}

	if e.journal != nil {
		rec := journal.RunRecord{
			ID:             result.RunID,
			TemplateID:     result.TemplateID,
			TemplateName:   result.TemplateName,
			Status:         string(result.Status),
			DryRun:         result.DryRun,
			StepsExecuted:  result.StepsExecuted,
			StepsSucceeded: result.StepsSucceeded,
			StepsFailed:    result.StepsFailed,
			StartedAt:      result.StartedAt,
			Duration:       result.Duration,
		}
		if err := e.journal.AppendRun(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Str("run", result.RunID).Msg("Failed to journal run")
		}
	}

	return result
}

// Resolve is the full pipeline: decide on the intent and, when a plan was
// selected, execute it immediately. The decision result always comes back;
// the run result is nil unless a candidate was selected.
func (e *Engine) Resolve(ctx context.Context, intent string, attrs *knowledge.Attrs, dryRun bool) (*Result, *plan.Result, error) {
	decision, err := e.Decide(ctx, intent, attrs)
	if err != nil {
		return nil, nil, err
	}
	if decision.Outcome != OutcomeSelected {
		return decision, nil, nil
	}
	return decision, e.Execute(ctx, decision.Plan, attrs, dryRun), nil
}
