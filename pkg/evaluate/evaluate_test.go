package evaluate

import (
	"context"
	"math"
	"strings"
	"testing"
	"testing/quick"

	"github.com/rs/zerolog"

	"github.com/praxon/praxon/pkg/knowledge"
)

func wellFormedTemplate() *knowledge.Template {
	tpl := knowledge.NewTemplate(
		"emergency pump shutdown",
		"safely stop pump emergency shutdown procedure")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID:       "pump-401",
		ActionID:       "stop",
		TargetStateID:  "isolated",
		SafetyTier:     knowledge.TierWarning,
		Preconditions:  []string{"pump_running"},
		Postconditions: []string{"pump_stopped", "ready_for_isolation"},
	})
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID:       "valve-302",
		ActionID:       "close",
		TargetStateID:  "closed",
		SafetyTier:     knowledge.TierWarning,
		Preconditions:  []string{"ready_for_isolation"},
		Postconditions: []string{"valve_closed", "system_isolated"},
	})
	tpl.ActivationConditions = []string{"emergency", "pressure > 800"}
	tpl.Postconditions = []string{"pump_stopped", "system_isolated", "safe_state"}
	tpl.ExceptionHandlers = map[string]string{
		"timeout":      "force_shutdown",
		"comm_failure": "local_override",
		"valve_stuck":  "manual_intervention",
	}
	tpl.EvaluationMetrics = []string{"shutdown_time_ms", "equipment_integrity"}
	return tpl
}

func emergencyContext() *knowledge.Attrs {
	return knowledge.AttrsFrom("emergency", true, "pressure", 850, "temperature", 95)
}

func TestIntention_WellFormedTemplateScores(t *testing.T) {
	ev := Intention{}.Evaluate(wellFormedTemplate(), emergencyContext(), "emergency shutdown procedure")

	if ev.IsVeto {
		t.Fatalf("Expected no veto, got: %s", ev.VetoReason)
	}
	if ev.Score <= 0 || ev.Score > 1 {
		t.Errorf("Expected score in (0,1], got %f", ev.Score)
	}
	if ev.Confidence != 0.85 {
		t.Errorf("Expected confidence 0.85, got %f", ev.Confidence)
	}
	if _, ok := ev.Factors["intent_alignment"]; !ok {
		t.Error("Expected intent_alignment factor in breakdown")
	}
}

func TestIntention_NoIntentIsNeutral(t *testing.T) {
	ev := Intention{}.Evaluate(wellFormedTemplate(), emergencyContext(), "")

	if ev.IsVeto {
		t.Fatalf("Expected no veto for empty intent, got: %s", ev.VetoReason)
	}
	if ev.Factors["intent_alignment"] != 0.5 {
		t.Errorf("Expected neutral alignment 0.5 without intent, got %f", ev.Factors["intent_alignment"])
	}
}

func TestIntention_ContradictoryIntentVetoes(t *testing.T) {
	ev := Intention{}.Evaluate(wellFormedTemplate(), emergencyContext(), "bake a celebratory cake")

	if !ev.IsVeto {
		t.Fatal("Expected veto for intent with zero overlap")
	}
	if ev.Score != 0 {
		t.Errorf("Expected score exactly 0 on veto, got %f", ev.Score)
	}
}

func TestIntention_NoUnitsVetoes(t *testing.T) {
	tpl := knowledge.NewTemplate("empty shell", "do nothing in particular")

	ev := Intention{}.Evaluate(tpl, knowledge.NewAttrs(), "do nothing in particular")
	if !ev.IsVeto {
		t.Fatal("Expected coherence veto for template without units")
	}
	if ev.Factors["logical_coherence"] != 0 {
		t.Errorf("Expected coherence 0, got %f", ev.Factors["logical_coherence"])
	}
}

func TestIntention_BrokenChainDecaysCoherence(t *testing.T) {
	chained := wellFormedTemplate()
	evChained := Intention{}.Evaluate(chained, emergencyContext(), "emergency shutdown procedure")

	broken := wellFormedTemplate()
	broken.Units[1].Preconditions = []string{"unrelated_tag"}
	evBroken := Intention{}.Evaluate(broken, emergencyContext(), "emergency shutdown procedure")

	if evBroken.Factors["logical_coherence"] >= evChained.Factors["logical_coherence"] {
		t.Errorf("Expected broken chain to score lower coherence: %f >= %f",
			evBroken.Factors["logical_coherence"], evChained.Factors["logical_coherence"])
	}
}

func TestEquilibrium_SingleAgentIsStable(t *testing.T) {
	tpl := knowledge.NewTemplate("solo action", "single actor procedure")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID: "pump-401", ActionID: "stop", TargetStateID: "stopped",
		SafetyTier: knowledge.TierInfo,
	})

	ev := Equilibrium{}.Evaluate(tpl, knowledge.NewAttrs(), "")
	if ev.IsVeto {
		t.Fatalf("Expected no veto, got: %s", ev.VetoReason)
	}
	if ev.Factors["equilibrium_proximity"] != 1.0 {
		t.Errorf("Expected proximity 1.0 for a single agent, got %f", ev.Factors["equilibrium_proximity"])
	}
	if ev.Factors["multi_agent_coherence"] != 1.0 {
		t.Errorf("Expected coherence 1.0 for a single agent, got %f", ev.Factors["multi_agent_coherence"])
	}
}

func TestEquilibrium_AgentsFromMetadataAndContext(t *testing.T) {
	tpl := wellFormedTemplate()
	tpl.Metadata = knowledge.AttrsFrom("executor", "safety_system", "target", "pump-401")

	ctx := knowledge.AttrsFrom("agents", []string{"operator", "maintenance"})
	ev := Equilibrium{}.Evaluate(tpl, ctx, "")

	if ev.IsVeto {
		t.Fatalf("Expected no veto, got: %s", ev.VetoReason)
	}
	// Multiple agents engage the heuristic proximity estimate.
	if ev.Factors["equilibrium_proximity"] == 1.0 {
		t.Error("Expected multi-agent proximity below the single-agent shortcut")
	}
	// Postconditions and metrics both lift coherence to the cap.
	if ev.Factors["multi_agent_coherence"] != 1.0 {
		t.Errorf("Expected coherence capped at 1.0, got %f", ev.Factors["multi_agent_coherence"])
	}
}

func TestEquilibrium_HandlerCoverageRaisesStability(t *testing.T) {
	bare := wellFormedTemplate()
	bare.ExceptionHandlers = nil
	evBare := Equilibrium{}.Evaluate(bare, knowledge.NewAttrs(), "")

	covered := wellFormedTemplate()
	evCovered := Equilibrium{}.Evaluate(covered, knowledge.NewAttrs(), "")

	if evCovered.Factors["stability"] <= evBare.Factors["stability"] {
		t.Errorf("Expected handler coverage to raise stability: %f <= %f",
			evCovered.Factors["stability"], evBare.Factors["stability"])
	}
	if evBare.Factors["stability"] != 0.7 {
		t.Errorf("Expected base stability 0.7 without handlers, got %f", evBare.Factors["stability"])
	}
}

func TestRobustness_CriticalWithoutHandlersVetoes(t *testing.T) {
	tpl := knowledge.NewTemplate(
		"dangerous unprotected action",
		"action without safety measures")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID:      "pump-401",
		ActionID:      "stop",
		TargetStateID: "stopped",
		SafetyTier:    knowledge.TierCritical,
	})
	// No exception handlers, no postconditions.

	ctx := knowledge.AttrsFrom("chaos_level", 0.9)
	ev := Robustness{}.Evaluate(tpl, ctx, "dangerous action")

	if !ev.IsVeto {
		t.Fatal("Expected robustness veto for unprotected critical unit")
	}
	if ev.Score != 0 {
		t.Errorf("Expected score exactly 0 on veto, got %f", ev.Score)
	}
}

func TestRobustness_HandlersOffsetCriticalTier(t *testing.T) {
	tpl := wellFormedTemplate()
	tpl.Units[0].SafetyTier = knowledge.TierCritical

	ev := Robustness{}.Evaluate(tpl, emergencyContext(), "emergency shutdown procedure")
	if ev.IsVeto {
		t.Fatalf("Expected handlers to offset the critical tier, got veto: %s", ev.VetoReason)
	}
	if ev.Score <= 0 {
		t.Errorf("Expected positive score, got %f", ev.Score)
	}
}

func TestRobustness_NumericConditionsNarrowBasin(t *testing.T) {
	loose := wellFormedTemplate()
	loose.ActivationConditions = []string{"emergency"}
	evLoose := Robustness{}.Evaluate(loose, emergencyContext(), "")

	strict := wellFormedTemplate()
	strict.ActivationConditions = []string{"pressure > 800", "temperature < 100", "level = nominal"}
	evStrict := Robustness{}.Evaluate(strict, emergencyContext(), "")

	if evStrict.Factors["basin_size"] >= evLoose.Factors["basin_size"] {
		t.Errorf("Expected numeric thresholds to narrow the basin: %f >= %f",
			evStrict.Factors["basin_size"], evLoose.Factors["basin_size"])
	}
}

func TestRobustness_BasinFloor(t *testing.T) {
	tpl := wellFormedTemplate()
	tpl.ActivationConditions = []string{
		"a > 1", "b > 2", "c > 3", "d > 4", "e > 5", "f > 6", "g > 7", "h > 8",
	}

	ev := Robustness{}.Evaluate(tpl, emergencyContext(), "")
	if ev.Factors["basin_size"] != 0.1 {
		t.Errorf("Expected basin floored at 0.1, got %f", ev.Factors["basin_size"])
	}
}

func TestPattern_DetectsStructuralPatterns(t *testing.T) {
	ev := Pattern{}.Evaluate(wellFormedTemplate(), emergencyContext(), "")

	if ev.IsVeto {
		t.Fatalf("Expected no veto, got: %s", ev.VetoReason)
	}
	// Sequential + defensive + goal-directed: (0.9+0.85+0.95)/3.
	want := (0.9 + 0.85 + 0.95) / 3
	if math.Abs(ev.Factors["pattern_universality"]-want) > 1e-9 {
		t.Errorf("Expected universality %f, got %f", want, ev.Factors["pattern_universality"])
	}
}

func TestPattern_NoPatternsIsUncertainNotVeto(t *testing.T) {
	tpl := knowledge.NewTemplate("minimal", "one step no frills")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID: "a", ActionID: "x", TargetStateID: "s",
		SafetyTier: knowledge.TierInfo,
	})
	tpl.EvaluationMetrics = []string{"latency"}

	ev := Pattern{}.Evaluate(tpl, knowledge.NewAttrs(), "")
	if ev.IsVeto {
		t.Fatal("Expected no veto for a pattern-free template")
	}
	if ev.Factors["pattern_universality"] != 0.5 {
		t.Errorf("Expected default universality 0.5, got %f", ev.Factors["pattern_universality"])
	}
}

func TestPattern_FeedbackLoopDetectedOnRepeatedEntity(t *testing.T) {
	tpl := knowledge.NewTemplate("monitor loop", "act then verify on the same entity")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID: "tank-7", ActionID: "open-valve", TargetStateID: "draining",
		SafetyTier: knowledge.TierInfo,
	})
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID: "tank-7", ActionID: "monitor", TargetStateID: "empty",
		SafetyTier: knowledge.TierInfo,
	})

	patterns := detectPatterns(tpl)
	found := false
	for _, p := range patterns {
		if p.name == "feedback_loop" {
			found = true
		}
	}
	if !found {
		t.Error("Expected feedback_loop pattern for repeated entity")
	}
}

func TestPattern_Proposals(t *testing.T) {
	tpl := wellFormedTemplate()
	tpl.EvaluationMetrics = nil

	proposals := Pattern{}.ProposeImprovements(tpl)
	if len(proposals) == 0 {
		t.Fatal("Expected at least one proposal")
	}
	kinds := make(map[ProposalKind]bool)
	for _, p := range proposals {
		if p.ID == "" {
			t.Error("Expected proposal to carry an id")
		}
		if p.TemplateID != tpl.ID {
			t.Error("Expected proposal to reference the template")
		}
		kinds[p.Kind] = true
	}
	if !kinds[ProposalHypothesis] {
		t.Error("Expected a hypothesis proposal for missing metrics")
	}
}

func TestPattern_Propose_EachKind(t *testing.T) {
	tpl := wellFormedTemplate()

	tests := []struct {
		kind ProposalKind
		gain float64
	}{
		{ProposalVariant, 0.15},
		{ProposalAlternative, 0.25},
		{ProposalHypothesis, 0.1},
		{ProposalParadigmShift, 0.3},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p := Pattern{}.Propose(tpl, tt.kind)
			if p.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, p.Kind)
			}
			if p.ID == "" {
				t.Error("Expected proposal to carry an id")
			}
			if p.TemplateID != tpl.ID {
				t.Error("Expected proposal to reference the template")
			}
			if p.Description == "" {
				t.Error("Expected a description")
			}
			if p.ExpectedGain != tt.gain {
				t.Errorf("Expected gain %f, got %f", tt.gain, p.ExpectedGain)
			}
			if p.CreatedAt.IsZero() {
				t.Error("Expected a creation timestamp")
			}
		})
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *knowledge.Store) {
	t.Helper()
	store, err := knowledge.New(knowledge.Config{Name: "test", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Expected no error creating store, got: %v", err)
	}
	return NewOrchestrator(store, zerolog.Nop()), store
}

func TestOrchestrator_AggregateIsProduct(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	tpl := wellFormedTemplate()
	if err := store.InsertTemplate(tpl, "", ""); err != nil {
		t.Fatalf("Expected no error inserting, got: %v", err)
	}

	result := orch.Evaluate(context.Background(), tpl, emergencyContext(), "emergency shutdown procedure")

	if result.Veto.Vetoed {
		t.Fatalf("Expected no veto, got %s: %s", result.Veto.Source, result.Veto.Reason)
	}

	product := 1.0
	for _, name := range []string{NameIntention, NameEquilibrium, NameRobustness, NamePattern} {
		ev, ok := result.Evaluations[name]
		if !ok {
			t.Fatalf("Expected evaluation from %s", name)
		}
		product *= ev.Score
	}
	if math.Abs(result.Aggregate-product) > 1e-12 {
		t.Errorf("Expected aggregate %f to equal product %f", result.Aggregate, product)
	}
}

func TestOrchestrator_WritesScoresBack(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	tpl := wellFormedTemplate()
	_ = store.InsertTemplate(tpl, "", "")

	result := orch.Evaluate(context.Background(), tpl, emergencyContext(), "emergency shutdown procedure")

	stored, ok := store.GetTemplate(tpl.ID)
	if !ok {
		t.Fatal("Expected template in store")
	}
	if len(stored.Scores) != 4 {
		t.Fatalf("Expected 4 cached scores, got %d", len(stored.Scores))
	}
	if stored.AggregateScore != result.Aggregate {
		t.Errorf("Expected cached aggregate %f, got %f", result.Aggregate, stored.AggregateScore)
	}
	if stored.LastVerdict != "NOMINAL" {
		t.Errorf("Expected verdict NOMINAL, got %s", stored.LastVerdict)
	}
}

func TestOrchestrator_VetoForcesZeroAndVerdict(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	tpl := knowledge.NewTemplate(
		"dangerous unprotected action",
		"action without safety measures")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID:      "pump-401",
		ActionID:      "stop",
		TargetStateID: "stopped",
		SafetyTier:    knowledge.TierCritical,
	})
	_ = store.InsertTemplate(tpl, "", "")

	result := orch.Evaluate(context.Background(), tpl,
		knowledge.AttrsFrom("chaos_level", 0.9), "action without safety measures")

	if !result.Veto.Vetoed {
		t.Fatal("Expected evaluation to be vetoed")
	}
	if result.Aggregate != 0 {
		t.Errorf("Expected aggregate exactly 0, got %f", result.Aggregate)
	}
	if result.Veto.Source != NameRobustness {
		t.Errorf("Expected robustness as veto source, got %s", result.Veto.Source)
	}

	stored, _ := store.GetTemplate(tpl.ID)
	if stored.LastVerdict != "VETO:robustness" {
		t.Errorf("Expected verdict VETO:robustness, got %s", stored.LastVerdict)
	}
}

func TestOrchestrator_SimultaneousVetoUsesPriorityOrder(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	// Zero intent overlap and an unprotected critical unit veto both the
	// intention and robustness evaluators. The reported source must follow
	// priority order every run.
	tpl := knowledge.NewTemplate("doubly vetoed", "completely unrelated purpose words")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID:      "pump-401",
		ActionID:      "stop",
		TargetStateID: "stopped",
		SafetyTier:    knowledge.TierCritical,
	})

	for range 20 {
		result := orch.Evaluate(context.Background(), tpl,
			knowledge.NewAttrs(), "quarterly finance report")
		if !result.Veto.Vetoed {
			t.Fatal("Expected veto")
		}
		if result.Veto.Source != NameIntention {
			t.Fatalf("Expected intention to win the priority tie-break, got %s", result.Veto.Source)
		}
	}
}

// stubEvaluator returns a fixed evaluation, letting property tests feed the
// orchestrator arbitrary score profiles.
type stubEvaluator struct {
	name  string
	score float64
	veto  bool
}

func (s stubEvaluator) Name() string { return s.name }

func (s stubEvaluator) Evaluate(*knowledge.Template, *knowledge.Attrs, string) Evaluation {
	ev := Evaluation{Evaluator: s.name, Score: s.score, Confidence: 1}
	if s.veto {
		ev.IsVeto = true
		ev.VetoReason = "synthetic veto"
	}
	return ev
}

var evaluatorNames = []string{NameIntention, NameEquilibrium, NameRobustness, NamePattern}

func stubOrchestrator(scores [4]float64, vetoAt int) *Orchestrator {
	evs := make([]Evaluator, len(evaluatorNames))
	for i, name := range evaluatorNames {
		evs[i] = stubEvaluator{name: name, score: scores[i], veto: i == vetoAt}
	}
	return newOrchestrator(nil, evs, zerolog.Nop())
}

func TestProductLaw(t *testing.T) {
	tpl := wellFormedTemplate()
	law := func(i, e, r, p float64) bool {
		scores := [4]float64{clamp01(i), clamp01(e), clamp01(r), clamp01(p)}
		result := stubOrchestrator(scores, -1).Evaluate(
			context.Background(), tpl, knowledge.NewAttrs(), "any intent")

		want := 1.0
		for _, s := range scores {
			want *= s
		}
		if want == 0 {
			// A zero score is itself a veto.
			return result.Aggregate == 0 && result.Veto.Vetoed
		}
		return result.Aggregate == want && !result.Veto.Vetoed
	}
	if err := quick.Check(law, nil); err != nil {
		t.Errorf("Product law violated: %v", err)
	}
}

func TestVetoMonotonicity(t *testing.T) {
	tpl := wellFormedTemplate()

	// A veto from any single evaluator forces the aggregate to exactly
	// zero, however high the other three score.
	law := func(a, b, c, d float64, vetoAt uint8) bool {
		scores := [4]float64{clamp01(a), clamp01(b), clamp01(c), clamp01(d)}
		idx := int(vetoAt % 4)
		result := stubOrchestrator(scores, idx).Evaluate(
			context.Background(), tpl, knowledge.NewAttrs(), "any intent")

		if result.Aggregate != 0 || !result.Veto.Vetoed {
			return false
		}
		// The reported source is the first vetoing evaluator in priority
		// order. An earlier zero score outranks the injected veto.
		wantSource := evaluatorNames[idx]
		for i := 0; i < idx; i++ {
			if scores[i] == 0 {
				wantSource = evaluatorNames[i]
				break
			}
		}
		return result.Veto.Source == wantSource
	}
	if err := quick.Check(law, nil); err != nil {
		t.Errorf("Veto monotonicity violated: %v", err)
	}
}

func TestExplain(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	tpl := wellFormedTemplate()
	_ = store.InsertTemplate(tpl, "", "")

	nominal := orch.Evaluate(context.Background(), tpl, emergencyContext(), "emergency shutdown procedure")
	text := Explain(nominal)
	for _, name := range evaluatorNames {
		if !strings.Contains(text, name) {
			t.Errorf("Expected breakdown to name %s, got: %s", name, text)
		}
	}
	if strings.Contains(text, "vetoed by") {
		t.Errorf("Expected no veto clause for a nominal result, got: %s", text)
	}

	vetoed := stubOrchestrator([4]float64{0.9, 0.8, 0.7, 0.6}, 2).Evaluate(
		context.Background(), tpl, knowledge.NewAttrs(), "any intent")
	text = Explain(vetoed)
	if !strings.Contains(text, "aggregate 0.0000") {
		t.Errorf("Expected zero aggregate in breakdown, got: %s", text)
	}
	if !strings.Contains(text, "[veto]") {
		t.Errorf("Expected the vetoing evaluator to be marked, got: %s", text)
	}
	if !strings.Contains(text, "vetoed by "+NameRobustness) {
		t.Errorf("Expected veto source clause, got: %s", text)
	}
}

func clamp01(v float64) float64 {
	v = math.Abs(v)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return v - math.Floor(v)
}
