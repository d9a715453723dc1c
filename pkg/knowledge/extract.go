package knowledge

import "context"

// Extraction is the result of mapping one raw external record into the
// store's vocabulary.
type Extraction struct {
	// EntityID, ActionID and StateID name the extracted triple.
	EntityID string `json:"entity_id"`
	ActionID string `json:"action_id"`
	StateID  string `json:"state_id"`

	// Context carries record-level detail the evaluators may consult.
	Context *Attrs `json:"context,omitempty"`

	// Confidence is the extractor's confidence in the mapping, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Extractor turns a raw external record into the vocabulary an atomic
// unit is assembled from. How raw sensor or log data maps onto entities
// and actions is entirely the collaborator's concern.
type Extractor interface {
	Extract(ctx context.Context, record []byte) (Extraction, error)
}

// ContextNormalizer turns raw environmental data into the validated
// context map the evaluators consume.
type ContextNormalizer interface {
	Normalize(ctx context.Context, raw map[string]any) (*Attrs, error)
}

// AssembleUnit builds an atomic unit from an extraction, registering the
// triple's vocabulary in the store's ontology on the way. Extractions
// below the confidence floor are rejected with a validation error.
func (s *Store) AssembleUnit(ex Extraction, tier SafetyTier, minConfidence float64) (Unit, error) {
	if ex.EntityID == "" || ex.ActionID == "" || ex.StateID == "" {
		return Unit{}, NewValidationError("extraction is missing a triple component", nil).
			WithCode(ErrCodeMalformed)
	}
	if ex.Confidence < minConfidence {
		return Unit{}, NewValidationError("extraction confidence below floor", nil).
			WithCode(ErrCodeMalformed)
	}
	if err := tier.Validate(); err != nil {
		return Unit{}, NewValidationError("invalid safety tier", err)
	}

	s.RegisterEntity(ex.EntityID, ex.EntityID, "extracted", nil)
	s.RegisterAction(ex.ActionID, ex.ActionID, "extracted", nil)
	s.RegisterState(ex.StateID, ex.StateID, "extracted", nil)

	return Unit{
		EntityID:      ex.EntityID,
		ActionID:      ex.ActionID,
		TargetStateID: ex.StateID,
		SafetyTier:    tier,
		Context:       ex.Context.Clone(),
	}, nil
}
