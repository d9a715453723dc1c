package decision

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/praxon/praxon/pkg/journal"
	"github.com/praxon/praxon/pkg/knowledge"
	"github.com/praxon/praxon/pkg/plan"
)

func newTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	s, err := knowledge.New(knowledge.Config{Name: "test", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Expected no error creating store, got: %v", err)
	}
	return s
}

// insertTemplate stores a well-formed template shaped like the pump
// shutdown procedure, returning its id.
func insertTemplate(t *testing.T, s *knowledge.Store, name string, tier knowledge.SafetyTier, activate bool) string {
	t.Helper()
	tpl := knowledge.NewTemplate(name, "halt the recirculation pump safely")
	tpl.ExceptionHandlers = map[string]string{
		"pump_jammed":  "engage manual override",
		"power_loss":   "switch to battery",
		"sensor_fault": "fall back to manual gauge",
	}
	tpl.Postconditions = []string{"pump stopped"}
	tpl.EvaluationMetrics = []string{"time_to_stop", "pressure_drop"}
	u := knowledge.Unit{
		EntityID:       "pump-401",
		ActionID:       "stop",
		TargetStateID:  "stopped",
		Postconditions: []string{"isolated"},
		SafetyTier:     tier,
	}
	if err := tpl.AddUnit(u); err != nil {
		t.Fatalf("Expected to add unit, got: %v", err)
	}
	if err := s.InsertTemplate(tpl, "safety", ""); err != nil {
		t.Fatalf("Expected to insert template, got: %v", err)
	}
	if activate {
		if err := s.SetTemplateStatus(tpl.ID, knowledge.StatusActive); err != nil {
			t.Fatalf("Expected to activate template, got: %v", err)
		}
	}
	return tpl.ID
}

func TestEngine_Decide_SelectsBestCandidate(t *testing.T) {
	s := newTestStore(t)
	id := insertTemplate(t, s, "stop recirculation pump", knowledge.TierWarning, true)
	e := NewEngine(Config{Store: s, Logger: zerolog.Nop()})

	result, err := e.Decide(context.Background(),
		"stop the recirculation pump", knowledge.AttrsFrom("emergency", true, "pressure", 850))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Outcome != OutcomeSelected {
		t.Fatalf("Expected outcome %s, got %s (%s)", OutcomeSelected, result.Outcome, result.Explanation)
	}
	if result.Selected == nil || result.Selected.TemplateID != id {
		t.Fatalf("Expected template %s selected, got %+v", id, result.Selected)
	}
	if result.Plan == nil || result.Plan.TotalSteps() != 1 {
		t.Fatalf("Expected a compiled one-step plan, got %+v", result.Plan)
	}
	if len(result.Selected.Scores) != 4 {
		t.Errorf("Expected four evaluator scores, got %v", result.Selected.Scores)
	}
	if result.Selected.Aggregate <= 0 {
		t.Errorf("Expected positive aggregate, got %f", result.Selected.Aggregate)
	}
}

func TestEngine_Decide_NoCandidates(t *testing.T) {
	s := newTestStore(t)
	insertTemplate(t, s, "stop recirculation pump", knowledge.TierWarning, true)
	e := NewEngine(Config{Store: s, Logger: zerolog.Nop()})

	result, err := e.Decide(context.Background(),
		"calibrate spectrometer", knowledge.AttrsFrom())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Outcome != OutcomeNoCandidates {
		t.Fatalf("Expected outcome %s, got %s", OutcomeNoCandidates, result.Outcome)
	}
	if result.Explanation == "" {
		t.Error("Expected an explanation")
	}
}

func TestEngine_Decide_AllVetoed(t *testing.T) {
	s := newTestStore(t)

	// Critical unit and no exception handlers: the robustness evaluator
	// vetoes this unconditionally.
	tpl := knowledge.NewTemplate("stop recirculation pump", "halt the pump")
	_ = tpl.AddUnit(knowledge.Unit{
		EntityID: "pump-401", ActionID: "stop", TargetStateID: "stopped",
		SafetyTier: knowledge.TierCritical,
	})
	if err := s.InsertTemplate(tpl, "safety", ""); err != nil {
		t.Fatalf("Expected to insert template, got: %v", err)
	}
	if err := s.SetTemplateStatus(tpl.ID, knowledge.StatusActive); err != nil {
		t.Fatalf("Expected to activate template, got: %v", err)
	}

	e := NewEngine(Config{Store: s, Logger: zerolog.Nop()})
	result, err := e.Decide(context.Background(),
		"stop the recirculation pump", knowledge.AttrsFrom("emergency", true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Outcome != OutcomeAllVetoed {
		t.Fatalf("Expected outcome %s, got %s", OutcomeAllVetoed, result.Outcome)
	}
	if len(result.Candidates) != 1 || !result.Candidates[0].Vetoed {
		t.Fatalf("Expected one vetoed candidate, got %+v", result.Candidates)
	}
	if result.Candidates[0].Aggregate != 0 {
		t.Errorf("Expected veto to force aggregate to zero, got %f", result.Candidates[0].Aggregate)
	}
	if !strings.Contains(result.Explanation, "vetoed by") {
		t.Errorf("Expected per-candidate veto detail, got: %s", result.Explanation)
	}
}

func TestEngine_Decide_SkipsInactiveButExplains(t *testing.T) {
	s := newTestStore(t)
	insertTemplate(t, s, "stop recirculation pump", knowledge.TierWarning, false)
	e := NewEngine(Config{Store: s, Logger: zerolog.Nop()})

	result, err := e.Decide(context.Background(),
		"stop the recirculation pump", knowledge.AttrsFrom("emergency", true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Outcome != OutcomeAllVetoed {
		t.Fatalf("Expected outcome %s for a draft-only store, got %s", OutcomeAllVetoed, result.Outcome)
	}
	if !strings.Contains(result.Explanation, "draft") {
		t.Errorf("Expected the draft status in the explanation, got: %s", result.Explanation)
	}
}

func TestEngine_Decide_PrefersHigherAggregate(t *testing.T) {
	s := newTestStore(t)
	// The guarded template carries handlers and postconditions; the bare
	// one scores lower on robustness and pattern.
	guarded := insertTemplate(t, s, "stop recirculation pump", knowledge.TierWarning, true)

	bare := knowledge.NewTemplate("stop recirculation pump quickly", "halt the pump")
	_ = bare.AddUnit(knowledge.Unit{
		EntityID: "pump-402", ActionID: "stop", TargetStateID: "stopped",
		SafetyTier: knowledge.TierWarning,
	})
	if err := s.InsertTemplate(bare, "safety", ""); err != nil {
		t.Fatalf("Expected to insert template, got: %v", err)
	}
	if err := s.SetTemplateStatus(bare.ID, knowledge.StatusActive); err != nil {
		t.Fatalf("Expected to activate template, got: %v", err)
	}

	e := NewEngine(Config{Store: s, Logger: zerolog.Nop()})
	result, err := e.Decide(context.Background(),
		"stop the recirculation pump", knowledge.AttrsFrom("emergency", true, "pressure", 850))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Outcome != OutcomeSelected {
		t.Fatalf("Expected a selection, got %s (%s)", result.Outcome, result.Explanation)
	}
	if result.Selected.TemplateID != guarded {
		t.Errorf("Expected the guarded template to win, got %s", result.Selected.Name)
	}
	if len(result.Candidates) != 2 {
		t.Errorf("Expected both candidates reported, got %d", len(result.Candidates))
	}
}

func TestEngine_Decide_EmptyIntent(t *testing.T) {
	e := NewEngine(Config{Store: newTestStore(t), Logger: zerolog.Nop()})

	_, err := e.Decide(context.Background(), "   ", knowledge.AttrsFrom())
	if err == nil {
		t.Fatal("Expected an error for an empty intent")
	}
	if !knowledge.IsValidation(err) {
		t.Errorf("Expected a validation error, got: %v", err)
	}
}

func TestEngine_Resolve_JournalsDecisionAndRun(t *testing.T) {
	s := newTestStore(t)
	insertTemplate(t, s, "stop recirculation pump", knowledge.TierWarning, true)

	j, err := journal.Open(context.Background(), journal.Config{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected journal to open, got: %v", err)
	}
	defer j.Close()

	e := NewEngine(Config{Store: s, Logger: zerolog.Nop(), Journal: j})
	ctx := context.Background()

	decision, run, err := e.Resolve(ctx,
		"stop the recirculation pump", knowledge.AttrsFrom("emergency", true), false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if decision.Outcome != OutcomeSelected {
		t.Fatalf("Expected a selection, got %s", decision.Outcome)
	}
	if run == nil || run.Status != plan.RunSuccess {
		t.Fatalf("Expected a successful run, got %+v", run)
	}

	decisions, err := j.ListDecisions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Expected to list decisions, got: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Outcome != string(OutcomeSelected) {
		t.Errorf("Expected one journaled selected decision, got %+v", decisions)
	}

	runs, err := j.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Expected to list runs, got: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.RunID {
		t.Errorf("Expected the run journaled, got %+v", runs)
	}
}
