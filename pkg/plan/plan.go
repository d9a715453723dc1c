// Package plan compiles approved templates into ordered execution plans
// and runs them with precondition checks and failure classification. A
// step failure is recorded and execution continues, unless the failing
// unit sits at the critical safety tier, which stops the run immediately.
package plan

import (
	"fmt"
	"time"

	"github.com/praxon/praxon/pkg/knowledge"
)

// stepEstimate is the per-step duration estimate used when compiling.
const stepEstimate = 100 * time.Millisecond

// StepStatus is the state of a single execution step. Steps start pending
// and reach exactly one terminal status.
type StepStatus string

const (
	// StepPending means the step has not run yet.
	StepPending StepStatus = "pending"

	// StepSuccess means the step completed.
	StepSuccess StepStatus = "success"

	// StepAborted means the step's preconditions were not met and the
	// action was never attempted.
	StepAborted StepStatus = "aborted"

	// StepFailure means the action was attempted and failed.
	StepFailure StepStatus = "failure"
)

// IsTerminal reports whether the status is final.
func (s StepStatus) IsTerminal() bool {
	return s == StepSuccess || s == StepAborted || s == StepFailure
}

// RunStatus is the overall outcome of a plan execution.
type RunStatus string

const (
	// RunSuccess means every step succeeded.
	RunSuccess RunStatus = "success"

	// RunPartial means some steps succeeded and some failed.
	RunPartial RunStatus = "partial"

	// RunFailure means every executed step failed.
	RunFailure RunStatus = "failure"

	// RunAborted means a critical-tier step failed and execution stopped
	// immediately. It overrides the other outcomes.
	RunAborted RunStatus = "aborted"
)

// Step is one unit of a compiled plan, in template order.
type Step struct {
	// Order is the 1-based position of the step.
	Order int `json:"order"`

	// Unit is the atomic unit the step executes.
	Unit knowledge.Unit `json:"unit"`
}

// Plan is the compiled, ordered execution form of an active template.
type Plan struct {
	// TemplateID and TemplateName identify the source template.
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`

	// Steps holds one step per atomic unit, in original order.
	Steps []Step `json:"steps"`

	// SafetyTier is the template's effective tier.
	SafetyTier knowledge.SafetyTier `json:"safety_tier"`

	// EstimatedDuration is step count times a constant estimate.
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// CreatedAt is when the plan was compiled.
	CreatedAt time.Time `json:"created_at"`
}

// TotalSteps returns the number of steps.
func (p *Plan) TotalSteps() int { return len(p.Steps) }

func (p *Plan) String() string {
	return fmt.Sprintf("plan(%s, %d steps)", p.TemplateName, len(p.Steps))
}

// clone deep-copies a plan so cached compilations stay isolated from
// executions.
func (p *Plan) clone() *Plan {
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		cs := s
		cs.Unit.Parameters = s.Unit.Parameters.Clone()
		cs.Unit.Context = s.Unit.Context.Clone()
		cs.Unit.Preconditions = append([]string(nil), s.Unit.Preconditions...)
		cs.Unit.Postconditions = append([]string(nil), s.Unit.Postconditions...)
		out.Steps[i] = cs
	}
	return &out
}
