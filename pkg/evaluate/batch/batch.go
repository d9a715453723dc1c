// Package batch provides an array-oriented backend for bulk scoring of
// the equilibrium and robustness evaluators. Template features are
// extracted once into parallel slices, then the kernels run over plain
// float64 arrays. The backend trades the per-item factor breakdown for
// throughput; its accept and veto decisions are equivalent to the
// per-item path for identical inputs within numeric tolerance.
package batch

import (
	"strings"

	"github.com/praxon/praxon/pkg/evaluate"
	"github.com/praxon/praxon/pkg/knowledge"
)

// Outcome is one template's bulk-scoring result.
type Outcome struct {
	// TemplateID names the scored template.
	TemplateID string `json:"template_id"`

	// Equilibrium and Robustness are the kernel scores in [0,1].
	Equilibrium float64 `json:"equilibrium"`
	Robustness  float64 `json:"robustness"`

	// Vetoed is true when either kernel issued an absolute veto.
	Vetoed bool `json:"vetoed"`

	// VetoSource names the vetoing kernel, equilibrium before robustness.
	VetoSource string `json:"veto_source,omitempty"`
}

// features is the structure-of-arrays extraction of everything the two
// kernels consume. Index i across all slices describes template i.
type features struct {
	ids []string

	unitCount    []float64
	handlerCount []float64
	agentCount   []float64

	numericConditions     []float64
	qualitativeConditions []float64

	hasPostconditions []bool
	hasMetrics        []bool
	hasReciprocity    []bool
	criticalTier      []bool
}

// extract walks the templates once and fills the feature arrays.
func extract(tpls []*knowledge.Template, ctx *knowledge.Attrs) features {
	n := len(tpls)
	f := features{
		ids:                   make([]string, n),
		unitCount:             make([]float64, n),
		handlerCount:          make([]float64, n),
		agentCount:            make([]float64, n),
		numericConditions:     make([]float64, n),
		qualitativeConditions: make([]float64, n),
		hasPostconditions:     make([]bool, n),
		hasMetrics:            make([]bool, n),
		hasReciprocity:        make([]bool, n),
		criticalTier:          make([]bool, n),
	}

	var ctxAgents []string
	if raw, ok := ctx.Get("agents"); ok {
		switch list := raw.(type) {
		case []string:
			ctxAgents = list
		case []any:
			for _, a := range list {
				if s, ok := a.(string); ok {
					ctxAgents = append(ctxAgents, s)
				}
			}
		}
	}

	for i, tpl := range tpls {
		f.ids[i] = tpl.ID
		f.unitCount[i] = float64(len(tpl.Units))
		f.handlerCount[i] = float64(len(tpl.ExceptionHandlers))
		f.hasPostconditions[i] = len(tpl.Postconditions) > 0
		f.hasMetrics[i] = len(tpl.EvaluationMetrics) > 0
		f.criticalTier[i] = tpl.SafetyTier() == knowledge.TierCritical

		agents := make(map[string]struct{})
		if executor, ok := tpl.Metadata.String("executor"); ok && executor != "" {
			agents[executor] = struct{}{}
		}
		if target, ok := tpl.Metadata.String("target"); ok && target != "" {
			agents[target] = struct{}{}
		}
		for _, u := range tpl.Units {
			if u.EntityID != "" {
				agents[u.EntityID] = struct{}{}
			}
			action := strings.ToLower(u.ActionID)
			if strings.Contains(action, "response") || strings.Contains(action, "feedback") {
				f.hasReciprocity[i] = true
			}
		}
		for _, a := range ctxAgents {
			agents[a] = struct{}{}
		}
		f.agentCount[i] = float64(len(agents))

		for _, condition := range tpl.ActivationConditions {
			if strings.ContainsAny(condition, "><=") {
				f.numericConditions[i]++
			} else {
				f.qualitativeConditions[i]++
			}
		}
	}
	return f
}

// equilibriumKernel computes the equilibrium scores over the feature
// arrays, mirroring the per-item factor formulas.
func equilibriumKernel(f features, scores []float64, vetoed []bool) {
	for i := range scores {
		agents := f.agentCount[i]

		proximity := 1.0
		coherence := 1.0
		if agents > 1 {
			proximity = 0.8
			if f.hasReciprocity[i] {
				proximity += 0.1
			}
			if proximity > 1 {
				proximity = 1
			}

			coherence = 0.8
			if f.hasPostconditions[i] {
				coherence += 0.1
			}
			if f.hasMetrics[i] {
				coherence += 0.1
			}
			if coherence > 1 {
				coherence = 1
			}
		}

		divisor := agents
		if divisor < 1 {
			divisor = 1
		}
		coverage := f.handlerCount[i] / divisor * 0.3
		if coverage > 0.3 {
			coverage = 0.3
		}
		stability := 0.7 + coverage

		if stability < 0.1 || (agents > 1 && proximity < 0.1) {
			vetoed[i] = true
			scores[i] = 0
			continue
		}
		scores[i] = proximity * stability * coherence
	}
}

// robustnessKernel computes the robustness scores over the feature
// arrays, mirroring the per-item factor formulas.
func robustnessKernel(f features, scores []float64, vetoed []bool) {
	for i := range scores {
		sensitivity := 0.2 + f.unitCount[i]*0.05
		if f.criticalTier[i] {
			sensitivity += 0.2
		}
		if f.handlerCount[i] == 0 {
			sensitivity += 0.15
		}
		if sensitivity > 1 {
			sensitivity = 1
		}
		complement := 1 - sensitivity

		basin := 0.8 - f.numericConditions[i]*0.1 - f.qualitativeConditions[i]*0.05
		if basin < 0.1 {
			basin = 0.1
		}

		tolerance := 0.7 + f.handlerCount[i]*0.05
		if f.hasPostconditions[i] {
			tolerance += 0.1
		}
		if tolerance > 1 {
			tolerance = 1
		}

		irreversible := f.criticalTier[i] && f.handlerCount[i] == 0
		if irreversible || complement < 0.1 || basin < 0.1 {
			vetoed[i] = true
			scores[i] = 0
			continue
		}
		scores[i] = complement * basin * tolerance
	}
}

// Score runs the equilibrium and robustness kernels over a slice of
// templates against one shared context.
func Score(tpls []*knowledge.Template, ctx *knowledge.Attrs) []Outcome {
	f := extract(tpls, ctx)
	n := len(tpls)

	eqScores := make([]float64, n)
	eqVetoed := make([]bool, n)
	equilibriumKernel(f, eqScores, eqVetoed)

	robScores := make([]float64, n)
	robVetoed := make([]bool, n)
	robustnessKernel(f, robScores, robVetoed)

	out := make([]Outcome, n)
	for i := range out {
		out[i] = Outcome{
			TemplateID:  f.ids[i],
			Equilibrium: eqScores[i],
			Robustness:  robScores[i],
		}
		switch {
		case eqVetoed[i]:
			out[i].Vetoed = true
			out[i].VetoSource = evaluate.NameEquilibrium
		case robVetoed[i]:
			out[i].Vetoed = true
			out[i].VetoSource = evaluate.NameRobustness
		}
	}
	return out
}
