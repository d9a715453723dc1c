package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Document is the single persisted representation of a store. Readers
// outside the engine (reporting, cross-store synchronization) may consume
// it but must not assume any schema beyond these fields.
type Document struct {
	// ID is the store identifier.
	ID string `json:"id"`

	// Name is the store name.
	Name string `json:"name"`

	// Templates lists all templates in insertion order.
	Templates []*Template `json:"templates"`

	// Stems maps thematic index keys to template id lists.
	Stems map[string][]string `json:"stems,omitempty"`

	// Chromosomes maps functional index keys to template id lists.
	Chromosomes map[string][]string `json:"chromosomes,omitempty"`

	// Entities, Actions and States are the ontology registries.
	Entities map[string]OntologyEntry `json:"entities,omitempty"`
	Actions  map[string]OntologyEntry `json:"actions,omitempty"`
	States   map[string]OntologyEntry `json:"states,omitempty"`

	// Events is the append-only event log.
	Events []EventRecord `json:"events,omitempty"`

	// CreatedAt and ModifiedAt are the store timestamps.
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ToDocument snapshots the store into its persisted representation.
func (s *Store) ToDocument() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := &Document{
		ID:          s.id,
		Name:        s.name,
		Templates:   make([]*Template, 0, len(s.order)),
		Stems:       copyIndex(s.stems),
		Chromosomes: copyIndex(s.chromosomes),
		Entities:    copyRegistry(s.entities),
		Actions:     copyRegistry(s.actions),
		States:      copyRegistry(s.states),
		Events:      append([]EventRecord(nil), s.events...),
		CreatedAt:   s.createdAt,
		ModifiedAt:  s.modifiedAt,
	}
	for _, id := range s.order {
		doc.Templates = append(doc.Templates, s.templates[id].Clone())
	}
	return doc
}

// FromDocument replaces the store contents with the document's. Malformed
// templates are logged as warnings and skipped; the rest of the document
// loads normally.
func (s *Store) FromDocument(doc *Document) error {
	if doc == nil {
		return NewValidationError("document is nil", nil).WithCode(ErrCodeMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fromDocumentLocked(doc)
	return nil
}

func (s *Store) fromDocumentLocked(doc *Document) {
	if doc.ID != "" {
		s.id = doc.ID
	}
	if doc.Name != "" {
		s.name = doc.Name
	}

	s.templates = make(map[string]*Template, len(doc.Templates))
	s.order = s.order[:0]
	skipped := 0
	for _, tpl := range doc.Templates {
		if tpl == nil {
			skipped++
			s.logger.Warn().Msg("Skipping null template entry during load")
			continue
		}
		if err := s.validate.Struct(tpl); err != nil {
			skipped++
			s.logger.Warn().Err(err).
				Str("template", shortID(tpl.ID)).
				Str("name", tpl.Name).
				Msg("Skipping malformed template during load")
			continue
		}
		s.templates[tpl.ID] = tpl.Clone()
		s.order = append(s.order, tpl.ID)
	}

	s.stems = copyIndex(doc.Stems)
	s.chromosomes = copyIndex(doc.Chromosomes)
	if s.stems == nil {
		s.stems = make(map[string][]string)
	}
	if s.chromosomes == nil {
		s.chromosomes = make(map[string][]string)
	}
	s.entities = orRegistry(doc.Entities)
	s.actions = orRegistry(doc.Actions)
	s.states = orRegistry(doc.States)
	s.events = append([]EventRecord(nil), doc.Events...)
	if !doc.CreatedAt.IsZero() {
		s.createdAt = doc.CreatedAt
	}
	if !doc.ModifiedAt.IsZero() {
		s.modifiedAt = doc.ModifiedAt
	}

	s.logger.Info().
		Int("templates", len(s.order)).
		Int("skipped", skipped).
		Msg("Store document loaded")
}

// Save persists the store document atomically to the configured path.
func (s *Store) Save() error {
	if s.path == "" {
		return NewStateError("store has no configured document path", nil)
	}
	return s.SaveTo(s.path)
}

// SaveTo persists the store document atomically to path: the document is
// written to a temporary file in the same directory and renamed over the
// destination.
func (s *Store) SaveTo(path string) error {
	doc := s.ToDocument()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace document: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Store document saved")
	return nil
}

// loadFromPath eagerly loads the document at construction time. A missing
// file leaves the store empty.
func (s *Store) loadFromPath(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode store document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fromDocumentLocked(&doc)
	return nil
}

func copyIndex(index map[string][]string) map[string][]string {
	if index == nil {
		return nil
	}
	out := make(map[string][]string, len(index))
	for k, ids := range index {
		out[k] = append([]string(nil), ids...)
	}
	return out
}

func copyRegistry(registry map[string]OntologyEntry) map[string]OntologyEntry {
	out := make(map[string]OntologyEntry, len(registry))
	for k, v := range registry {
		v.Attrs = v.Attrs.Clone()
		out[k] = v
	}
	return out
}

func orRegistry(registry map[string]OntologyEntry) map[string]OntologyEntry {
	if registry == nil {
		return make(map[string]OntologyEntry)
	}
	return copyRegistry(registry)
}
