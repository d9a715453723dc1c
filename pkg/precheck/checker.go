// Package precheck defines the pluggable precondition boundary the plan
// executor consults before running each step. Real-world precondition
// evaluation against live system state is the collaborator's concern; the
// executor only needs a pass/fail verdict with a reason.
package precheck

import (
	"context"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Verdict is the outcome of one precondition check.
type Verdict struct {
	// Satisfied is true when the step may execute.
	Satisfied bool `json:"satisfied"`

	// Reasons lists why the check failed, empty when satisfied.
	Reasons []string `json:"reasons,omitempty"`
}

// Checker validates a unit's preconditions against the runtime context.
type Checker interface {
	Check(ctx context.Context, unit knowledge.Unit, env *knowledge.Attrs) (Verdict, error)
}

// PassChecker satisfies every check. The executor falls back to it when no
// checker is wired.
type PassChecker struct{}

// Check always passes.
func (PassChecker) Check(ctx context.Context, unit knowledge.Unit, env *knowledge.Attrs) (Verdict, error) {
	return Verdict{Satisfied: true}, nil
}

// TagChecker satisfies a check when every precondition tag of the unit is
// present as a truthy context key. It is a lightweight alternative to a
// full policy engine for contexts that carry precondition tags directly.
type TagChecker struct{}

// Check verifies each precondition tag against the context.
func (TagChecker) Check(ctx context.Context, unit knowledge.Unit, env *knowledge.Attrs) (Verdict, error) {
	verdict := Verdict{Satisfied: true}
	for _, tag := range unit.Preconditions {
		value, ok := env.Get(tag)
		if !ok {
			verdict.Satisfied = false
			verdict.Reasons = append(verdict.Reasons, "missing precondition: "+tag)
			continue
		}
		if b, isBool := value.(bool); isBool && !b {
			verdict.Satisfied = false
			verdict.Reasons = append(verdict.Reasons, "unsatisfied precondition: "+tag)
		}
	}
	return verdict, nil
}
