package evaluate

import (
	"strings"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Equilibrium evaluates whether executing a template leaves the affected
// agents in a stable strategic state. Its score is the product of
// equilibrium proximity, a stability factor derived from exception-handler
// coverage, and multi-agent coherence.
type Equilibrium struct{}

// Name returns the evaluator's score key.
func (Equilibrium) Name() string { return NameEquilibrium }

// Evaluate scores strategic stability.
func (Equilibrium) Evaluate(tpl *knowledge.Template, ctx *knowledge.Attrs, intent string) Evaluation {
	agents := identifyAgents(tpl, ctx)

	proximity := equilibriumProximity(tpl, agents)
	stability := stabilityFactor(tpl, agents)
	coherence := multiAgentCoherence(tpl, agents)

	ev := Evaluation{
		Evaluator:  NameEquilibrium,
		Confidence: 0.80,
		Factors: map[string]float64{
			"equilibrium_proximity": proximity,
			"stability":             stability,
			"multi_agent_coherence": coherence,
		},
	}

	switch {
	case stability < 0.1:
		ev.IsVeto = true
		ev.VetoReason = "action creates destructive feedback loops"
	case len(agents) > 1 && proximity < 0.1:
		ev.IsVeto = true
		ev.VetoReason = "no stable equilibrium exists"
	default:
		ev.Score = proximity * stability * coherence
	}
	return ev
}

// identifyAgents collects the agents affected by or affecting the action:
// executor and target from metadata, every unit entity, plus any agents
// the context names explicitly.
func identifyAgents(tpl *knowledge.Template, ctx *knowledge.Attrs) []string {
	seen := make(map[string]struct{})
	var agents []string
	add := func(agent string) {
		if agent == "" {
			return
		}
		if _, ok := seen[agent]; ok {
			return
		}
		seen[agent] = struct{}{}
		agents = append(agents, agent)
	}

	if executor, ok := tpl.Metadata.String("executor"); ok {
		add(executor)
	}
	if target, ok := tpl.Metadata.String("target"); ok {
		add(target)
	}
	for _, u := range tpl.Units {
		add(u.EntityID)
	}
	if raw, ok := ctx.Get("agents"); ok {
		switch list := raw.(type) {
		case []string:
			for _, a := range list {
				add(a)
			}
		case []any:
			for _, a := range list {
				if s, ok := a.(string); ok {
					add(s)
				}
			}
		}
	}
	return agents
}

// equilibriumProximity estimates how close the action brings the system to
// equilibrium. A single agent is always in equilibrium with itself; among
// several agents, a reciprocity action keyword improves the estimated
// benefit distribution.
func equilibriumProximity(tpl *knowledge.Template, agents []string) float64 {
	if len(agents) <= 1 {
		return 1.0
	}

	distribution := 0.8
	for _, u := range tpl.Units {
		action := strings.ToLower(u.ActionID)
		if strings.Contains(action, "response") || strings.Contains(action, "feedback") {
			distribution += 0.1
			break
		}
	}
	return capAt(distribution, 1.0)
}

// stabilityFactor rewards exception-handler coverage relative to the
// number of agents involved.
func stabilityFactor(tpl *knowledge.Template, agents []string) float64 {
	agentCount := len(agents)
	if agentCount == 0 {
		agentCount = 1
	}
	coverage := float64(len(tpl.ExceptionHandlers)) / float64(agentCount)
	return 0.7 + capAt(coverage*0.3, 0.3)
}

// multiAgentCoherence rewards defined outcomes and evaluation metrics when
// several agents are involved.
func multiAgentCoherence(tpl *knowledge.Template, agents []string) float64 {
	if len(agents) <= 1 {
		return 1.0
	}

	coherence := 0.8
	if len(tpl.Postconditions) > 0 {
		coherence += 0.1
	}
	if len(tpl.EvaluationMetrics) > 0 {
		coherence += 0.1
	}
	return capAt(coherence, 1.0)
}
