package knowledge

import (
	"fmt"
	"time"
)

// SafetyTier classifies the risk of a unit or template.
type SafetyTier string

const (
	// TierInfo marks routine, freely repeatable actions.
	TierInfo SafetyTier = "info"

	// TierWarning marks actions with operational impact that should be
	// reviewed before execution.
	TierWarning SafetyTier = "warning"

	// TierCritical marks actions whose failure modes may be irreversible.
	// A critical step failure short-circuits plan execution.
	TierCritical SafetyTier = "critical"
)

// rank orders tiers so the template tier can be computed as a maximum.
func (t SafetyTier) rank() int {
	switch t {
	case TierCritical:
		return 2
	case TierWarning:
		return 1
	default:
		return 0
	}
}

// Validate checks if the safety tier is valid.
func (t SafetyTier) Validate() error {
	switch t {
	case TierInfo, TierWarning, TierCritical:
		return nil
	default:
		return fmt.Errorf("invalid safety tier: %s", t)
	}
}

// TemplateStatus represents the lifecycle status of a template.
type TemplateStatus string

const (
	// StatusDraft indicates the template is being assembled and cannot be
	// translated into a plan yet.
	StatusDraft TemplateStatus = "draft"

	// StatusActive indicates the template may be evaluated and executed.
	StatusActive TemplateStatus = "active"

	// StatusDeprecated indicates the template should no longer be selected
	// but remains queryable.
	StatusDeprecated TemplateStatus = "deprecated"

	// StatusArchived is terminal. Lifecycle-sensitive fields of an
	// archived template can no longer be mutated.
	StatusArchived TemplateStatus = "archived"
)

// Validate checks if the template status is valid.
func (s TemplateStatus) Validate() error {
	switch s {
	case StatusDraft, StatusActive, StatusDeprecated, StatusArchived:
		return nil
	default:
		return fmt.Errorf("invalid template status: %s", s)
	}
}

// CanTransition reports whether the lifecycle permits moving to next.
// The machine is draft -> active -> {deprecated, archived}; deprecated may
// still be archived; archived is terminal.
func (s TemplateStatus) CanTransition(next TemplateStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusActive || next == StatusArchived
	case StatusActive:
		return next == StatusDeprecated || next == StatusArchived
	case StatusDeprecated:
		return next == StatusArchived
	default:
		return false
	}
}

// Unit is the atomic, immutable value object of operational knowledge:
// an entity, the action performed on it, and the desired target state,
// together with pre/postcondition tags and a safety tier. Two units with
// identical (entity, action, target state) triples are structurally
// identical and interchangeable; the triple alone derives the identifier.
type Unit struct {
	// EntityID identifies the entity being acted upon.
	EntityID string `json:"entity_id" validate:"required"`

	// ActionID identifies the action to perform.
	ActionID string `json:"action_id" validate:"required"`

	// TargetStateID identifies the desired resulting state.
	TargetStateID string `json:"target_state_id" validate:"required"`

	// Parameters holds optional domain-specific parameters for the action.
	Parameters *Attrs `json:"parameters,omitempty"`

	// Preconditions are tags that must hold before execution, in order.
	Preconditions []string `json:"preconditions,omitempty"`

	// Postconditions are tags expected to hold after execution, in order.
	Postconditions []string `json:"postconditions,omitempty"`

	// SafetyTier is the risk classification of this unit.
	SafetyTier SafetyTier `json:"safety_tier" validate:"required,oneof=info warning critical"`

	// Context carries additional contextual information.
	Context *Attrs `json:"context,omitempty"`
}

// UID returns the deterministic identifier of the unit, derived from its
// (entity, action, target state) triple.
func (u Unit) UID() string {
	return MakeUID("unit", u.EntityID, u.ActionID, u.TargetStateID)
}

// SameTriple reports structural interchangeability with another unit.
func (u Unit) SameTriple(other Unit) bool {
	return u.EntityID == other.EntityID &&
		u.ActionID == other.ActionID &&
		u.TargetStateID == other.TargetStateID
}

func (u Unit) String() string {
	return fmt.Sprintf("[%s | %s | %s]", u.EntityID, u.ActionID, u.TargetStateID)
}

// VetoStatus records the cached outcome of the last veto determination.
type VetoStatus struct {
	// Vetoed is true when any evaluator issued an absolute veto.
	Vetoed bool `json:"vetoed"`

	// Source names the vetoing evaluator, chosen by the fixed priority
	// order when several veto simultaneously.
	Source string `json:"source,omitempty"`

	// Reason is the evaluator-provided veto reason.
	Reason string `json:"reason,omitempty"`
}

// Template is a named, versioned, ordered sequence of units expressing a
// reusable capability. Templates are mutable records owned exclusively by
// the Store once inserted; accessors hand out deep copies, never aliases.
type Template struct {
	// ID is the content-addressed identifier and sole deduplication key.
	ID string `json:"id" validate:"required,len=64,hexadecimal"`

	// Name is the human-readable name.
	Name string `json:"name" validate:"required"`

	// Purpose is a declarative description of what the template
	// accomplishes; it participates in intent alignment scoring.
	Purpose string `json:"purpose"`

	// Version is a semantic version string.
	Version string `json:"version"`

	// Status is the current lifecycle status.
	Status TemplateStatus `json:"status" validate:"required,oneof=draft active deprecated archived"`

	// Units is the ordered sequence of atomic units.
	Units []Unit `json:"units" validate:"dive"`

	// ActivationConditions are the conditions required for activation.
	ActivationConditions []string `json:"activation_conditions,omitempty"`

	// Postconditions are the truths expected after successful execution.
	Postconditions []string `json:"postconditions,omitempty"`

	// ExceptionHandlers maps failure conditions to fallback strategies.
	ExceptionHandlers map[string]string `json:"exception_handlers,omitempty"`

	// EvaluationMetrics names the KPIs for assessing execution quality.
	EvaluationMetrics []string `json:"evaluation_metrics,omitempty"`

	// Metadata holds additional descriptive information.
	Metadata *Attrs `json:"metadata,omitempty"`

	// Scores caches the most recent per-evaluator scores.
	Scores map[string]float64 `json:"motor_scores,omitempty"`

	// AggregateScore caches the product of the four evaluator scores.
	// It is meaningful only when Scores holds all four entries.
	AggregateScore float64 `json:"aggregate_score"`

	// Veto caches the most recent veto determination.
	Veto VetoStatus `json:"veto_status"`

	// ParentIDs records lineage for variants derived from other templates.
	ParentIDs []string `json:"parent_ids,omitempty"`

	// ExperienceCount is incremented each time an insert recognizes this
	// template instead of learning a new one.
	ExperienceCount int `json:"experience_count"`

	// LastVerdict is the most recent verdict string recorded against the
	// template (e.g. "LEARNED", "RECALLED", "NOMINAL", "VETO:intention").
	LastVerdict string `json:"last_verdict,omitempty"`

	// CreatedAt is when the template was first created.
	CreatedAt time.Time `json:"created_at"`

	// ModifiedAt is when the template was last modified.
	ModifiedAt time.Time `json:"modified_at"`
}

// NewTemplate creates a draft template. The identifier is derived from the
// name and purpose so that re-creating the same logical template yields
// the same id, which is what drives recognition on insert.
func NewTemplate(name, purpose string) *Template {
	now := time.Now().UTC()
	return &Template{
		ID:         MakeUID("template", name, purpose),
		Name:       name,
		Purpose:    purpose,
		Version:    "1.0.0",
		Status:     StatusDraft,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// AddUnit appends a unit to the template's sequence. It fails once the
// template is archived.
func (t *Template) AddUnit(u Unit) error {
	if t.Status == StatusArchived {
		return NewStateError("cannot modify archived template", nil).
			WithTemplate(t.ID).WithCode(ErrCodeArchived)
	}
	t.Units = append(t.Units, u)
	t.ModifiedAt = time.Now().UTC()
	return nil
}

// Activate transitions the template to active. A template may become
// active only if it contains at least one unit.
func (t *Template) Activate() error {
	if len(t.Units) == 0 {
		return NewStateError("cannot activate template without units", nil).
			WithTemplate(t.ID).WithCode(ErrCodeNoUnits)
	}
	if !t.Status.CanTransition(StatusActive) && t.Status != StatusActive {
		return NewStateError(
			fmt.Sprintf("cannot activate template in status %s", t.Status), nil).
			WithTemplate(t.ID).WithCode(ErrCodeBadTransition)
	}
	t.Status = StatusActive
	t.ModifiedAt = time.Now().UTC()
	return nil
}

// SafetyTier returns the highest tier among the template's units.
func (t *Template) SafetyTier() SafetyTier {
	tier := TierInfo
	for _, u := range t.Units {
		if u.SafetyTier.rank() > tier.rank() {
			tier = u.SafetyTier
		}
	}
	return tier
}

// Clone returns a deep copy of the template. The store uses it to keep
// ownership of its records while handing callers stable snapshots.
func (t *Template) Clone() *Template {
	out := *t

	out.Units = make([]Unit, len(t.Units))
	for i, u := range t.Units {
		cu := u
		cu.Parameters = u.Parameters.Clone()
		cu.Context = u.Context.Clone()
		cu.Preconditions = append([]string(nil), u.Preconditions...)
		cu.Postconditions = append([]string(nil), u.Postconditions...)
		out.Units[i] = cu
	}

	out.ActivationConditions = append([]string(nil), t.ActivationConditions...)
	out.Postconditions = append([]string(nil), t.Postconditions...)
	out.EvaluationMetrics = append([]string(nil), t.EvaluationMetrics...)
	out.ParentIDs = append([]string(nil), t.ParentIDs...)
	out.Metadata = t.Metadata.Clone()

	if t.ExceptionHandlers != nil {
		out.ExceptionHandlers = make(map[string]string, len(t.ExceptionHandlers))
		for k, v := range t.ExceptionHandlers {
			out.ExceptionHandlers[k] = v
		}
	}
	if t.Scores != nil {
		out.Scores = make(map[string]float64, len(t.Scores))
		for k, v := range t.Scores {
			out.Scores[k] = v
		}
	}
	return &out
}

// OntologyEntry describes a registered entity, action or state.
type OntologyEntry struct {
	// ID is the registry key.
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// Category classifies the entry (e.g. physical, operational, safety).
	Category string `json:"category"`

	// Attrs holds additional attributes.
	Attrs *Attrs `json:"attrs,omitempty"`

	// RegisteredAt is when the entry was first registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// EventType identifies an entry in the store's append-only event log.
type EventType string

const (
	// EventLearned records the first insertion of a template id.
	EventLearned EventType = "learned"

	// EventRecognized records a recognition upsert of an existing id.
	EventRecognized EventType = "recognized"

	// EventRemoved records explicit removal of a template.
	EventRemoved EventType = "removed"

	// EventStatusChanged records a lifecycle transition.
	EventStatusChanged EventType = "status_changed"

	// EventEvaluated records a score write-back from the orchestrator.
	EventEvaluated EventType = "evaluated"
)

// EventRecord is one entry of the store's append-only event log.
type EventRecord struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// TemplateID is the template the event concerns.
	TemplateID string `json:"template_id"`

	// TemplateName is copied at event time for readability.
	TemplateName string `json:"template_name,omitempty"`

	// Stem is the thematic index the event touched, if any.
	Stem string `json:"stem,omitempty"`

	// Chromosome is the functional index the event touched, if any.
	Chromosome string `json:"chromosome,omitempty"`

	// Detail carries event-specific context.
	Detail string `json:"detail,omitempty"`

	// Timestamp is when the event was appended.
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives store events as they are appended. A sink must not
// call back into the store.
type EventSink interface {
	AppendStoreEvent(ev EventRecord) error
}
