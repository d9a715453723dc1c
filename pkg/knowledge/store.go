package knowledge

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Config holds store configuration.
type Config struct {
	// Path is the document the store persists to. When the file exists,
	// the store loads it eagerly at construction. An empty path keeps the
	// store in memory only; Save then fails.
	Path string

	// Name is the human-readable store name.
	Name string

	// Logger is the structured logger the store derives its component
	// logger from.
	Logger zerolog.Logger

	// Sink optionally receives every appended event record, e.g. for
	// durable journaling.
	Sink EventSink
}

// Store is the content-addressed repository of templates. It owns every
// inserted template exclusively (arena-by-id); read operations return deep
// copies. Mutations are serialized through a single writer lock, reads may
// proceed concurrently.
type Store struct {
	mu sync.RWMutex

	id   string
	name string
	path string

	templates map[string]*Template
	order     []string // insertion order, drives stable tie-breaks

	stems       map[string][]string
	chromosomes map[string][]string

	entities map[string]OntologyEntry
	actions  map[string]OntologyEntry
	states   map[string]OntologyEntry

	events []EventRecord

	createdAt  time.Time
	modifiedAt time.Time

	validate *validator.Validate
	logger   zerolog.Logger
	sink     EventSink
}

// New creates a store and eagerly loads the configured document when it
// exists. A missing document is not an error; the store starts empty and
// writes the document on the first Save.
func New(cfg Config) (*Store, error) {
	name := cfg.Name
	if name == "" {
		name = "default"
	}

	s := &Store{
		id:          MakeUID("store", name),
		name:        name,
		path:        cfg.Path,
		templates:   make(map[string]*Template),
		stems:       make(map[string][]string),
		chromosomes: make(map[string][]string),
		entities:    make(map[string]OntologyEntry),
		actions:     make(map[string]OntologyEntry),
		states:      make(map[string]OntologyEntry),
		createdAt:   time.Now().UTC(),
		modifiedAt:  time.Now().UTC(),
		validate:    validator.New(),
		logger:      cfg.Logger.With().Str("component", "knowledge-store").Logger(),
		sink:        cfg.Sink,
	}

	if cfg.Path != "" {
		if err := s.loadFromPath(cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to load store document: %w", err)
		}
	}

	return s, nil
}

// ID returns the store identifier.
func (s *Store) ID() string { return s.id }

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// RegisterEntity upserts an entity into the ontology registry and returns
// its id. Registration is idempotent; re-registering overwrites the entry.
func (s *Store) RegisterEntity(id, name, category string, attrs *Attrs) string {
	return s.register(s.entities, id, name, category, attrs)
}

// RegisterAction upserts an action into the ontology registry.
func (s *Store) RegisterAction(id, name, category string, attrs *Attrs) string {
	return s.register(s.actions, id, name, category, attrs)
}

// RegisterState upserts a state into the ontology registry.
func (s *Store) RegisterState(id, name, category string, attrs *Attrs) string {
	return s.register(s.states, id, name, category, attrs)
}

func (s *Store) register(registry map[string]OntologyEntry, id, name, category string, attrs *Attrs) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := registry[id]
	if !exists {
		entry = OntologyEntry{ID: id, RegisteredAt: time.Now().UTC()}
	}
	entry.Name = name
	entry.Category = category
	entry.Attrs = attrs.Clone()
	registry[id] = entry
	s.modifiedAt = time.Now().UTC()
	return id
}

// Entity returns the registered entity entry for id.
func (s *Store) Entity(id string) (OntologyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// Action returns the registered action entry for id.
func (s *Store) Action(id string) (OntologyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.actions[id]
	return e, ok
}

// State returns the registered state entry for id.
func (s *Store) State(id string) (OntologyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.states[id]
	return e, ok
}

// InsertTemplate performs the recognition-or-learning upsert. Inserting an
// unknown identifier stores a deep copy of the template (learning);
// inserting an identifier the store already holds increments that
// template's experience counter and merges the incoming metadata into the
// existing record (recognition). Duplicates never fail. Malformed
// templates fail with a validation error.
func (s *Store) InsertTemplate(tpl *Template, stem, chromosome string) error {
	if tpl == nil {
		return NewValidationError("template is nil", nil).WithCode(ErrCodeMalformed)
	}
	if err := s.validate.Struct(tpl); err != nil {
		return NewValidationError("malformed template", err).
			WithTemplate(tpl.ID).WithCode(ErrCodeMalformed)
	}
	if stem == "" {
		stem = "default"
	}
	if chromosome == "" {
		chromosome = "primary"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	existing, known := s.templates[tpl.ID]
	if known {
		existing.ExperienceCount++
		if existing.Metadata == nil {
			existing.Metadata = NewAttrs()
		}
		existing.Metadata.Merge(tpl.Metadata)
		existing.LastVerdict = "RECALLED"
		existing.ModifiedAt = now
		s.modifiedAt = now

		s.appendIndexLocked(s.stems, stem, tpl.ID)
		s.appendIndexLocked(s.chromosomes, chromosome, tpl.ID)
		s.appendEventLocked(EventRecord{
			Type:         EventRecognized,
			TemplateID:   tpl.ID,
			TemplateName: existing.Name,
			Stem:         stem,
			Chromosome:   chromosome,
			Detail:       fmt.Sprintf("experience_count=%d", existing.ExperienceCount),
			Timestamp:    now,
		})

		s.logger.Debug().
			Str("template", shortID(tpl.ID)).
			Int("experience", existing.ExperienceCount).
			Msg("Template recognized")
		return nil
	}

	owned := tpl.Clone()
	if owned.LastVerdict == "" {
		owned.LastVerdict = "LEARNED"
	}
	s.templates[owned.ID] = owned
	s.order = append(s.order, owned.ID)
	s.appendIndexLocked(s.stems, stem, owned.ID)
	s.appendIndexLocked(s.chromosomes, chromosome, owned.ID)
	s.modifiedAt = now

	s.appendEventLocked(EventRecord{
		Type:         EventLearned,
		TemplateID:   owned.ID,
		TemplateName: owned.Name,
		Stem:         stem,
		Chromosome:   chromosome,
		Timestamp:    now,
	})

	s.logger.Info().
		Str("template", shortID(owned.ID)).
		Str("name", owned.Name).
		Str("stem", stem).
		Str("chromosome", chromosome).
		Msg("Template learned")
	return nil
}

// GetTemplate returns a deep copy of the template, or false when the id is
// unknown. Absence is a normal return, never an error.
func (s *Store) GetTemplate(id string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, false
	}
	return tpl.Clone(), true
}

// RemoveTemplate destroys a template. It is the only way a template is
// destroyed; index entries pointing at the id are dropped lazily on read.
func (s *Store) RemoveTemplate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return false
	}
	delete(s.templates, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.modifiedAt = time.Now().UTC()
	s.appendEventLocked(EventRecord{
		Type:         EventRemoved,
		TemplateID:   id,
		TemplateName: tpl.Name,
		Timestamp:    time.Now().UTC(),
	})
	return true
}

// SetTemplateStatus transitions a template's lifecycle status, enforcing
// the state machine and the archived-is-terminal rule.
func (s *Store) SetTemplateStatus(id string, next TemplateStatus) error {
	if err := next.Validate(); err != nil {
		return NewValidationError("invalid status", err).WithTemplate(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return NewLookupError("template not found", nil).
			WithTemplate(id).WithCode(ErrCodeNotFound)
	}
	if tpl.Status == next {
		return nil
	}
	if next == StatusActive && len(tpl.Units) == 0 {
		return NewStateError("cannot activate template without units", nil).
			WithTemplate(id).WithCode(ErrCodeNoUnits)
	}
	if !tpl.Status.CanTransition(next) {
		return NewStateError(
			fmt.Sprintf("cannot transition %s -> %s", tpl.Status, next), nil).
			WithTemplate(id).WithCode(ErrCodeBadTransition)
	}

	prev := tpl.Status
	tpl.Status = next
	tpl.ModifiedAt = time.Now().UTC()
	s.modifiedAt = tpl.ModifiedAt

	s.appendEventLocked(EventRecord{
		Type:         EventStatusChanged,
		TemplateID:   id,
		TemplateName: tpl.Name,
		Detail:       fmt.Sprintf("%s -> %s", prev, next),
		Timestamp:    tpl.ModifiedAt,
	})
	return nil
}

// RecordEvaluation writes cached evaluator scores, the aggregate, and the
// veto determination back onto the owned template record.
func (s *Store) RecordEvaluation(id string, scores map[string]float64, aggregate float64, veto VetoStatus, verdict string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return NewLookupError("template not found", nil).
			WithTemplate(id).WithCode(ErrCodeNotFound)
	}

	tpl.Scores = make(map[string]float64, len(scores))
	for k, v := range scores {
		tpl.Scores[k] = v
	}
	tpl.AggregateScore = aggregate
	tpl.Veto = veto
	tpl.LastVerdict = verdict
	tpl.ModifiedAt = time.Now().UTC()
	s.modifiedAt = tpl.ModifiedAt

	s.appendEventLocked(EventRecord{
		Type:         EventEvaluated,
		TemplateID:   id,
		TemplateName: tpl.Name,
		Detail:       fmt.Sprintf("aggregate=%.4f vetoed=%t", aggregate, veto.Vetoed),
		Timestamp:    tpl.ModifiedAt,
	})
	return nil
}

// FindByStem returns copies of the templates grouped under a thematic
// stem, in index order. Unknown keys yield an empty list.
func (s *Store) FindByStem(stem string) []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.stems[stem])
}

// FindByChromosome returns copies of the templates grouped under a
// functional chromosome, in index order.
func (s *Store) FindByChromosome(chromosome string) []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.chromosomes[chromosome])
}

// AddToStem appends an existing template to an additional thematic stem.
func (s *Store) AddToStem(id, stem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return NewLookupError("template not found", nil).
			WithTemplate(id).WithCode(ErrCodeNotFound)
	}
	s.appendIndexLocked(s.stems, stem, id)
	return nil
}

// Stems returns the known stem keys.
func (s *Store) Stems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.stems))
	for k := range s.stems {
		out = append(out, k)
	}
	return out
}

// Events returns a copy of the append-only event log.
func (s *Store) Events() []EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EventRecord, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of templates held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// Stats summarizes the store contents.
type Stats struct {
	// StoreID is the store identifier.
	StoreID string `json:"store_id"`

	// Name is the store name.
	Name string `json:"name"`

	// Templates is the total number of templates.
	Templates int `json:"templates"`

	// ActiveTemplates is the number of templates in active status.
	ActiveTemplates int `json:"active_templates"`

	// Units is the total number of units across all templates.
	Units int `json:"units"`

	// Stems is the number of thematic index keys.
	Stems int `json:"stems"`

	// Chromosomes is the number of functional index keys.
	Chromosomes int `json:"chromosomes"`

	// Entities, Actions and States are the ontology registry sizes.
	Entities int `json:"entities"`
	Actions  int `json:"actions"`
	States   int `json:"states"`

	// Events is the length of the append-only event log.
	Events int `json:"events"`
}

// Stats returns summary statistics for the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		StoreID:     s.id,
		Name:        s.name,
		Templates:   len(s.templates),
		Stems:       len(s.stems),
		Chromosomes: len(s.chromosomes),
		Entities:    len(s.entities),
		Actions:     len(s.actions),
		States:      len(s.states),
		Events:      len(s.events),
	}
	for _, tpl := range s.templates {
		st.Units += len(tpl.Units)
		if tpl.Status == StatusActive {
			st.ActiveTemplates++
		}
	}
	return st
}

func (s *Store) collectLocked(ids []string) []*Template {
	out := make([]*Template, 0, len(ids))
	for _, id := range ids {
		if tpl, ok := s.templates[id]; ok {
			out = append(out, tpl.Clone())
		}
	}
	return out
}

// appendIndexLocked appends the id to the index key unless already listed.
func (s *Store) appendIndexLocked(index map[string][]string, key, id string) {
	for _, existing := range index[key] {
		if existing == id {
			return
		}
	}
	index[key] = append(index[key], id)
}

func (s *Store) appendEventLocked(ev EventRecord) {
	s.events = append(s.events, ev)
	if s.sink != nil {
		if err := s.sink.AppendStoreEvent(ev); err != nil {
			s.logger.Warn().Err(err).
				Str("event", string(ev.Type)).
				Msg("Event sink append failed")
		}
	}
}
