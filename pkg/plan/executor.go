package plan

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxon/praxon/pkg/knowledge"
	"github.com/praxon/praxon/pkg/precheck"
)

// DefaultStepTimeout bounds each step when the executor is not configured
// otherwise.
const DefaultStepTimeout = 30 * time.Second

// Actuator performs the side-effecting action of a step. Implementations
// interface with the actual operational environment; the executor only
// needs the action's output or its error.
type Actuator interface {
	Apply(ctx context.Context, unit knowledge.Unit, env *knowledge.Attrs) (*knowledge.Attrs, error)
}

// SimulatedActuator performs no real side effects; it echoes the unit's
// triple as the step output.
type SimulatedActuator struct{}

// Apply simulates the action.
func (SimulatedActuator) Apply(ctx context.Context, unit knowledge.Unit, env *knowledge.Attrs) (*knowledge.Attrs, error) {
	return knowledge.AttrsFrom(
		"entity", unit.EntityID,
		"action_performed", unit.ActionID,
		"resulting_state", unit.TargetStateID,
	), nil
}

// StepResult is the recorded outcome of one executed step.
type StepResult struct {
	// Order is the step's position in the plan.
	Order int `json:"order"`

	// Unit renders the step's triple for readability.
	Unit string `json:"unit"`

	// Status is the step's terminal status.
	Status StepStatus `json:"status"`

	// Output is the actuator output, nil for dry runs and failures.
	Output *knowledge.Attrs `json:"output,omitempty"`

	// Error is the recorded failure, empty on success.
	Error string `json:"error,omitempty"`

	// Duration is how long the step took, checks included.
	Duration time.Duration `json:"duration"`
}

// Result is the recorded outcome of one plan execution.
type Result struct {
	// RunID uniquely identifies this execution.
	RunID string `json:"run_id"`

	// TemplateID and TemplateName identify the executed template.
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`

	// DryRun is true when side-effecting actions were skipped.
	DryRun bool `json:"dry_run"`

	// Status is the overall outcome.
	Status RunStatus `json:"status"`

	// StepsExecuted, StepsSucceeded and StepsFailed count the steps that
	// ran, succeeded, and failed or aborted.
	StepsExecuted  int `json:"steps_executed"`
	StepsSucceeded int `json:"steps_succeeded"`
	StepsFailed    int `json:"steps_failed"`

	// Steps holds the per-step records in execution order.
	Steps []StepResult `json:"steps"`

	// StartedAt and Duration time the run.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ExecutorConfig configures an executor. Zero values fall back to the
// pass-through checker, the simulated actuator, and the default step
// timeout.
type ExecutorConfig struct {
	// Checker validates step preconditions. Nil always passes.
	Checker precheck.Checker

	// Actuator performs step actions. Nil simulates them.
	Actuator Actuator

	// StepTimeout bounds each step, checks and action together.
	StepTimeout time.Duration

	// Logger is the structured logger the executor derives its component
	// logger from.
	Logger zerolog.Logger
}

// Executor runs compiled plans step by step. Precondition failures abort
// the step without attempting the action; action errors fail the step and
// execution continues, except that a failing critical-tier step stops the
// run immediately.
type Executor struct {
	checker     precheck.Checker
	actuator    Actuator
	stepTimeout time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	checker := cfg.Checker
	if checker == nil {
		checker = precheck.PassChecker{}
	}
	actuator := cfg.Actuator
	if actuator == nil {
		actuator = SimulatedActuator{}
	}
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &Executor{
		checker:     checker,
		actuator:    actuator,
		stepTimeout: timeout,
		logger:      cfg.Logger.With().Str("component", "plan-executor").Logger(),
		tracer:      otel.Tracer("praxon/plan"),
	}
}

// Execute runs the plan's steps in order against the runtime context. A
// dry run still performs precondition checks and timing but skips the
// actuator. The returned result classifies every step and the run as a
// whole.
func (e *Executor) Execute(ctx context.Context, p *Plan, env *knowledge.Attrs, dryRun bool) *Result {
	ctx, span := e.tracer.Start(ctx, "plan.execute",
		trace.WithAttributes(
			attribute.String("template.id", p.TemplateID),
			attribute.Bool("dry_run", dryRun),
		))
	defer span.End()

	result := &Result{
		RunID:        uuid.New().String(),
		TemplateID:   p.TemplateID,
		TemplateName: p.TemplateName,
		DryRun:       dryRun,
		Status:       RunSuccess,
		StartedAt:    time.Now().UTC(),
	}

	shortCircuited := false
	for _, step := range p.Steps {
		sr := e.executeStep(ctx, step, env, dryRun)

		result.Steps = append(result.Steps, sr)
		result.StepsExecuted++
		if sr.Status == StepSuccess {
			result.StepsSucceeded++
		} else {
			result.StepsFailed++
		}

		if sr.Status == StepFailure && step.Unit.SafetyTier == knowledge.TierCritical {
			shortCircuited = true
			break
		}
	}

	switch {
	case shortCircuited:
		// The critical short-circuit overrides partial and failure.
		result.Status = RunAborted
	case result.StepsFailed > 0 && result.StepsSucceeded > 0:
		result.Status = RunPartial
	case result.StepsFailed > 0:
		result.Status = RunFailure
	}

	result.Duration = time.Since(result.StartedAt)

	span.SetAttributes(attribute.String("run.status", string(result.Status)))
	e.logger.Info().
		Str("run", result.RunID).
		Str("template", p.TemplateName).
		Str("status", string(result.Status)).
		Int("succeeded", result.StepsSucceeded).
		Int("executed", result.StepsExecuted).
		Bool("dry_run", dryRun).
		Msg("Plan execution complete")

	return result
}

func (e *Executor) executeStep(ctx context.Context, step Step, env *knowledge.Attrs, dryRun bool) StepResult {
	sr := StepResult{
		Order:  step.Order,
		Unit:   step.Unit.String(),
		Status: StepPending,
	}
	start := time.Now()
	defer func() { sr.Duration = time.Since(start) }()

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	verdict, err := e.checker.Check(stepCtx, step.Unit, env)
	if err != nil {
		sr.Status = StepFailure
		sr.Error = knowledge.NewStepError("precondition check failed", err).
			WithStep(step.Order).Error()
		return sr
	}
	if !verdict.Satisfied {
		sr.Status = StepAborted
		sr.Error = "preconditions not met"
		if len(verdict.Reasons) > 0 {
			sr.Error += ": " + strings.Join(verdict.Reasons, "; ")
		}
		return sr
	}

	if !dryRun {
		output, err := e.actuator.Apply(stepCtx, step.Unit, env)
		if err != nil {
			sr.Status = StepFailure
			stepErr := knowledge.NewStepError("step execution failed", err).WithStep(step.Order)
			if errors.Is(err, context.DeadlineExceeded) {
				stepErr = stepErr.WithCode(knowledge.ErrCodeTimeout)
			}
			sr.Error = stepErr.Error()
			e.logger.Error().Err(err).Int("step", step.Order).Msg("Step failed")
			return sr
		}
		sr.Output = output
	}

	sr.Status = StepSuccess
	return sr
}
