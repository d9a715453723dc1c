package evaluate

import (
	"strings"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Robustness evaluates how tolerant a template is to perturbations. Its
// score is the product of a sensitivity complement, the estimated basin of
// attraction, and the perturbation tolerance. An action that only works
// under ideal conditions is not reliable.
type Robustness struct{}

// Name returns the evaluator's score key.
func (Robustness) Name() string { return NameRobustness }

// Evaluate scores robustness to perturbations.
func (Robustness) Evaluate(tpl *knowledge.Template, ctx *knowledge.Attrs, intent string) Evaluation {
	sensitivity := sensitivityComplement(tpl)
	basin := basinSize(tpl.ActivationConditions)
	tolerance := perturbationTolerance(tpl)

	ev := Evaluation{
		Evaluator:  NameRobustness,
		Confidence: 0.75,
		Factors: map[string]float64{
			"sensitivity_complement": sensitivity,
			"basin_size":             basin,
			"perturbation_tolerance": tolerance,
		},
	}

	switch {
	case hasIrreversibleFailureMode(tpl):
		ev.IsVeto = true
		ev.VetoReason = "failure mode includes irreversible catastrophe"
	case sensitivity < 0.1:
		ev.IsVeto = true
		ev.VetoReason = "extreme sensitivity to initial conditions"
	case basin < 0.1:
		ev.IsVeto = true
		ev.VetoReason = "basin of attraction too small for real-world noise"
	default:
		ev.Score = sensitivity * basin * tolerance
	}
	return ev
}

// sensitivityComplement is one minus an estimated sensitivity to initial
// conditions. Longer unit chains accumulate perturbations; a critical
// safety tier and missing exception handlers both raise the concern.
func sensitivityComplement(tpl *knowledge.Template) float64 {
	sensitivity := 0.2
	sensitivity += float64(len(tpl.Units)) * 0.05
	if tpl.SafetyTier() == knowledge.TierCritical {
		sensitivity += 0.2
	}
	if len(tpl.ExceptionHandlers) == 0 {
		sensitivity += 0.15
	}
	return 1.0 - capAt(sensitivity, 1.0)
}

// basinSize estimates the basin of attraction. Each strict numeric
// activation condition narrows it more than a qualitative one.
func basinSize(conditions []string) float64 {
	basin := 0.8
	for _, condition := range conditions {
		if strings.ContainsAny(condition, "><=") {
			basin -= 0.1
		} else {
			basin -= 0.05
		}
	}
	return floorAt(basin, 0.1)
}

// perturbationTolerance rewards exception handlers and defined success
// criteria.
func perturbationTolerance(tpl *knowledge.Template) float64 {
	tolerance := 0.7
	tolerance += float64(len(tpl.ExceptionHandlers)) * 0.05
	if len(tpl.Postconditions) > 0 {
		tolerance += 0.1
	}
	return capAt(tolerance, 1.0)
}

// hasIrreversibleFailureMode reports whether any unit sits at the critical
// tier without an offsetting exception handler on the template.
func hasIrreversibleFailureMode(tpl *knowledge.Template) bool {
	if len(tpl.ExceptionHandlers) > 0 {
		return false
	}
	for _, u := range tpl.Units {
		if u.SafetyTier == knowledge.TierCritical {
			return true
		}
	}
	return false
}
