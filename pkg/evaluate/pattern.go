package evaluate

import (
	"time"

	"github.com/google/uuid"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Pattern is the meta-evaluator. It scores how well a template reflects
// universal structural patterns and how close it sits to an imagined
// ideal, and separately produces non-binding improvement proposals. It
// rarely vetoes.
type Pattern struct{}

// Name returns the evaluator's score key.
func (Pattern) Name() string { return NamePattern }

// detectedPattern is one structural pattern found in a template, weighted
// by how universal the pattern is across domains.
type detectedPattern struct {
	name   string
	weight float64
}

// Evaluate scores pattern universality, cross-scale coherence, and
// proximity to the imagined ideal.
func (p Pattern) Evaluate(tpl *knowledge.Template, ctx *knowledge.Attrs, intent string) Evaluation {
	universality := patternUniversality(detectPatterns(tpl))
	scale := scaleCoherence(tpl)
	proximity := proximityToIdeal(p.imagineImprovements(tpl))

	ev := Evaluation{
		Evaluator:  NamePattern,
		Confidence: 0.70,
		Factors: map[string]float64{
			"pattern_universality": universality,
			"scale_coherence":      scale,
			"proximity_to_ideal":   proximity,
		},
	}

	if universality < 0.1 {
		ev.IsVeto = true
		ev.VetoReason = "action violates fundamental patterns"
		return ev
	}
	ev.Score = universality * scale * proximity
	return ev
}

// detectPatterns finds the structural patterns a template exhibits.
func detectPatterns(tpl *knowledge.Template) []detectedPattern {
	var patterns []detectedPattern

	if len(tpl.Units) >= 2 {
		patterns = append(patterns, detectedPattern{"sequential_execution", 0.9})
	}
	if len(tpl.ExceptionHandlers) > 0 {
		patterns = append(patterns, detectedPattern{"defensive_execution", 0.85})
	}
	if len(tpl.Postconditions) > 0 {
		patterns = append(patterns, detectedPattern{"goal_directed", 0.95})
	}

	seen := make(map[string]struct{}, len(tpl.Units))
	for _, u := range tpl.Units {
		if _, ok := seen[u.EntityID]; ok {
			patterns = append(patterns, detectedPattern{"feedback_loop", 0.8})
			break
		}
		seen[u.EntityID] = struct{}{}
	}
	return patterns
}

// patternUniversality averages the universality weights of the detected
// patterns. No detectable pattern is uncertain, not disqualifying.
func patternUniversality(patterns []detectedPattern) float64 {
	if len(patterns) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, p := range patterns {
		sum += p.weight
	}
	return sum / float64(len(patterns))
}

// scaleCoherence combines micro (unit integrity), meso (template-level
// coherence) and macro (system fit) sub-scores with fixed weights.
func scaleCoherence(tpl *knowledge.Template) float64 {
	micro := 1.0
	for _, u := range tpl.Units {
		if u.EntityID == "" || u.ActionID == "" {
			micro -= 0.2
		}
	}
	micro = floorAt(micro, 0)

	meso := 0.6
	if len(tpl.Postconditions) > 0 {
		meso = 0.8
	}

	macro := 0.7
	if domain, ok := tpl.Metadata.String("domain"); ok && domain != "" {
		macro += 0.1
	}

	return micro*0.3 + meso*0.4 + macro*0.3
}

// proximityToIdeal penalizes the score by the best improvement the
// evaluator can imagine: if something clearly better exists, the current
// template sits further from the ideal.
func proximityToIdeal(improvements []Proposal) float64 {
	best := 0.0
	for _, imp := range improvements {
		if imp.ExpectedGain > best {
			best = imp.ExpectedGain
		}
	}
	return 1.0 - capAt(best*0.5, 0.3)
}

// ProposalKind classifies an improvement proposal.
type ProposalKind string

const (
	// ProposalVariant suggests a modified version of the template.
	ProposalVariant ProposalKind = "variant"

	// ProposalAlternative suggests a fundamentally different approach to
	// the same goal.
	ProposalAlternative ProposalKind = "alternative-approach"

	// ProposalHypothesis suggests an untested possibility worth exploring.
	ProposalHypothesis ProposalKind = "hypothesis"

	// ProposalParadigmShift suggests a new framing of the problem itself.
	ProposalParadigmShift ProposalKind = "paradigm-shift"
)

// Proposal is a non-binding improvement suggestion. Proposals never mutate
// the template they describe; they are purely consultative output that
// must be validated before any implementation.
type Proposal struct {
	// ID uniquely identifies the proposal.
	ID string `json:"id"`

	// Kind classifies the proposal.
	Kind ProposalKind `json:"kind"`

	// TemplateID is the template the proposal is based on.
	TemplateID string `json:"template_id"`

	// Description explains the suggested change.
	Description string `json:"description"`

	// ExpectedGain estimates the score improvement, in [0,1].
	ExpectedGain float64 `json:"expected_gain"`

	// Confidence is how certain the evaluator is of the estimate.
	Confidence float64 `json:"confidence"`

	// CreatedAt is when the proposal was produced.
	CreatedAt time.Time `json:"created_at"`
}

// imagineImprovements produces the improvement proposals the evaluator can
// currently justify from the template's structure.
func (p Pattern) imagineImprovements(tpl *knowledge.Template) []Proposal {
	var out []Proposal
	now := time.Now().UTC()

	if len(tpl.Units) > 2 {
		out = append(out, Proposal{
			ID:           uuid.New().String(),
			Kind:         ProposalVariant,
			TemplateID:   tpl.ID,
			Description:  "reorder units for better parallelization",
			ExpectedGain: 0.15,
			Confidence:   0.6,
			CreatedAt:    now,
		})
	}
	if len(tpl.ExceptionHandlers) > 3 {
		out = append(out, Proposal{
			ID:           uuid.New().String(),
			Kind:         ProposalAlternative,
			TemplateID:   tpl.ID,
			Description:  "fundamentally different approach to avoid exceptions",
			ExpectedGain: 0.25,
			Confidence:   0.4,
			CreatedAt:    now,
		})
	}
	if len(tpl.EvaluationMetrics) == 0 {
		out = append(out, Proposal{
			ID:           uuid.New().String(),
			Kind:         ProposalHypothesis,
			TemplateID:   tpl.ID,
			Description:  "add metrics to measure actual versus intended outcome",
			ExpectedGain: 0.1,
			Confidence:   0.7,
			CreatedAt:    now,
		})
	}
	return out
}

// ProposeImprovements returns the current improvement proposals for a
// template.
func (p Pattern) ProposeImprovements(tpl *knowledge.Template) []Proposal {
	return p.imagineImprovements(tpl)
}

// Propose produces a single proposal of the requested kind.
func (p Pattern) Propose(tpl *knowledge.Template, kind ProposalKind) Proposal {
	proposal := Proposal{
		ID:         uuid.New().String(),
		Kind:       kind,
		TemplateID: tpl.ID,
		Confidence: 0.5,
		CreatedAt:  time.Now().UTC(),
	}
	switch kind {
	case ProposalVariant:
		proposal.Description = "reorder units for parallel execution"
		proposal.ExpectedGain = 0.15
	case ProposalAlternative:
		proposal.Description = "alternative approach to the same goal"
		proposal.ExpectedGain = 0.25
	case ProposalHypothesis:
		proposal.Description = "untested possibility worth exploring"
		proposal.ExpectedGain = 0.1
	case ProposalParadigmShift:
		proposal.Description = "new way of understanding the problem"
		proposal.ExpectedGain = 0.3
	}
	return proposal
}
