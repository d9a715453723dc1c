package evaluate

import (
	"strings"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Evaluator names, also used as score keys on templates and in veto
// records. The order here is the fixed veto priority.
const (
	NameIntention   = "intention"
	NameEquilibrium = "equilibrium"
	NameRobustness  = "robustness"
	NamePattern     = "pattern"
)

// Evaluation is the result of a single evaluator run.
type Evaluation struct {
	// Evaluator names the evaluator that produced this result.
	Evaluator string `json:"evaluator"`

	// Score is the evaluator's verdict in [0,1], the product of its
	// internal factors. Zero is an absolute veto.
	Score float64 `json:"score"`

	// IsVeto is true when the evaluator issued an absolute veto.
	IsVeto bool `json:"is_veto"`

	// VetoReason explains the veto, empty otherwise.
	VetoReason string `json:"veto_reason,omitempty"`

	// Confidence is how certain the evaluator is of its own measurement.
	Confidence float64 `json:"confidence"`

	// Factors breaks the score down into its named internal factors.
	Factors map[string]float64 `json:"factors"`
}

// Evaluator scores one aspect of a candidate template against a context
// and a stated intent. Evaluation is a pure function of its inputs: no
// shared state is mutated, so evaluators are safe to run concurrently
// against the same template and context.
type Evaluator interface {
	// Name returns the evaluator's score key.
	Name() string

	// Evaluate scores the template. The context carries normalized
	// environmental data; intent is the caller's stated purpose.
	Evaluate(tpl *knowledge.Template, ctx *knowledge.Attrs, intent string) Evaluation
}

// wordSet lowercases and splits text into a set of words.
func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// intersects reports whether two ordered tag lists share any element.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

func floorAt(v, limit float64) float64 {
	if v < limit {
		return limit
	}
	return v
}
