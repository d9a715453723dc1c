package precheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/praxon/praxon/pkg/knowledge"
)

// RegoChecker evaluates unit preconditions through an OPA Rego policy. The
// policy is compiled once at construction; its deny rule receives the unit
// and the runtime context as input and yields a set of failure reasons.
type RegoChecker struct {
	query  rego.PreparedEvalQuery
	logger zerolog.Logger
}

// regoInput is the document handed to the policy as input.
type regoInput struct {
	Unit    unitInput      `json:"unit"`
	Context map[string]any `json:"context"`
}

type unitInput struct {
	EntityID      string   `json:"entity_id"`
	ActionID      string   `json:"action_id"`
	TargetStateID string   `json:"target_state_id"`
	Preconditions []string `json:"preconditions"`
	SafetyTier    string   `json:"safety_tier"`
}

// NewRegoChecker compiles a Rego policy module into a checker. The query
// targets the deny rule of the module's package.
func NewRegoChecker(module string, logger zerolog.Logger) (*RegoChecker, error) {
	pkg := extractPackageName(module)
	query, err := rego.New(
		rego.Module("precheck.rego", module),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to compile precheck policy: %w", err)
	}

	return &RegoChecker{
		query:  query,
		logger: logger.With().Str("component", "precheck").Logger(),
	}, nil
}

// Check evaluates the policy's deny rule. Any deny entry fails the check,
// each entry becoming a reason.
func (c *RegoChecker) Check(ctx context.Context, unit knowledge.Unit, env *knowledge.Attrs) (Verdict, error) {
	input := regoInput{
		Unit: unitInput{
			EntityID:      unit.EntityID,
			ActionID:      unit.ActionID,
			TargetStateID: unit.TargetStateID,
			Preconditions: unit.Preconditions,
			SafetyTier:    string(unit.SafetyTier),
		},
		Context: make(map[string]any, env.Len()),
	}
	env.Range(func(key string, value any) bool {
		input.Context[key] = value
		return true
	})

	results, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Verdict{}, fmt.Errorf("precheck policy evaluation failed: %w", err)
	}

	verdict := Verdict{Satisfied: true}
	for _, result := range results {
		for _, expr := range result.Expressions {
			denies, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, deny := range denies {
				verdict.Satisfied = false
				verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("%v", deny))
			}
		}
	}

	if !verdict.Satisfied {
		c.logger.Debug().
			Str("unit", unit.String()).
			Strs("reasons", verdict.Reasons).
			Msg("Precondition check denied")
	}
	return verdict, nil
}

// extractPackageName reads the package declaration from a Rego module.
func extractPackageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if parts := strings.Fields(trimmed); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "praxon.precheck"
}
