package evaluate

import (
	"strings"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Intention evaluates whether a template realizes the caller's stated
// intent. Its score is the product of intent alignment, precondition
// satisfiability, and the logical coherence of the unit chain.
type Intention struct{}

// Name returns the evaluator's score key.
func (Intention) Name() string { return NameIntention }

// Evaluate scores intent realization.
func (Intention) Evaluate(tpl *knowledge.Template, ctx *knowledge.Attrs, intent string) Evaluation {
	alignment := intentAlignment(tpl.Purpose, intent)
	satisfiability := preconditionSatisfiability(tpl.ActivationConditions, ctx)
	coherence := logicalCoherence(tpl.Units)

	ev := Evaluation{
		Evaluator:  NameIntention,
		Confidence: 0.85,
		Factors: map[string]float64{
			"intent_alignment":            alignment,
			"precondition_satisfiability": satisfiability,
			"logical_coherence":           coherence,
		},
	}

	switch {
	case alignment < 0.1:
		ev.IsVeto = true
		ev.VetoReason = "action contradicts stated intention"
	case coherence < 0.1:
		ev.IsVeto = true
		ev.VetoReason = "action cannot logically achieve its goal"
	case satisfiability == 0:
		ev.IsVeto = true
		ev.VetoReason = "preconditions cannot be satisfied"
	default:
		// Alignment is floored at 0.1 once past the veto check so weak
		// but non-contradictory intents still score.
		ev.Score = floorAt(alignment, 0.1) * satisfiability * coherence
	}
	return ev
}

// intentAlignment measures word overlap between the stated intent and the
// template purpose. No stated intent is neutral.
func intentAlignment(purpose, intent string) float64 {
	intentWords := wordSet(intent)
	if len(intentWords) == 0 {
		return 0.5
	}
	purposeWords := wordSet(purpose)

	overlap := 0
	for w := range intentWords {
		if _, ok := purposeWords[w]; ok {
			overlap++
		}
	}
	return capAt(float64(overlap)/float64(len(intentWords))*2, 1.0)
}

// preconditionSatisfiability is the fraction of activation conditions
// whose leading keyword appears among the context keys. Unknown conditions
// earn partial credit; no conditions means fully satisfiable.
func preconditionSatisfiability(conditions []string, ctx *knowledge.Attrs) float64 {
	if len(conditions) == 0 {
		return 1.0
	}

	keys := make(map[string]struct{}, ctx.Len())
	for _, k := range ctx.Keys() {
		keys[strings.ToLower(k)] = struct{}{}
	}

	satisfied := 0.0
	for _, condition := range conditions {
		keyword := ""
		if fields := strings.Fields(condition); len(fields) > 0 {
			keyword = strings.ToLower(fields[0])
		}
		if _, ok := keys[keyword]; ok {
			satisfied += 1.0
		} else {
			satisfied += 0.5
		}
	}
	return satisfied / float64(len(conditions))
}

// logicalCoherence starts at 1.0 and decays for malformed units and for
// adjacent pairs whose postconditions do not feed the next unit's
// preconditions. A template without units cannot achieve anything.
func logicalCoherence(units []knowledge.Unit) float64 {
	if len(units) == 0 {
		return 0.0
	}

	coherence := 1.0
	for i, u := range units {
		if u.EntityID == "" || u.ActionID == "" {
			coherence *= 0.5
		}
		if i > 0 && !intersects(units[i-1].Postconditions, u.Preconditions) {
			coherence *= 0.9
		}
	}
	return coherence
}
