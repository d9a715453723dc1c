package knowledge

import (
	"fmt"
	"sync"
	"time"
)

// Edge is a directed association between two templates.
type Edge struct {
	// From and To are template identifiers.
	From string `json:"from"`
	To   string `json:"to"`

	// Relation names the association, e.g. "follows" or "alternative".
	Relation string `json:"relation"`

	// Weight is an optional association strength.
	Weight float64 `json:"weight,omitempty"`
}

// Links is a plain adjacency list keyed by template identifier, layered
// over a store. It holds no template data of its own; both endpoints must
// exist in the store when an edge is added.
type Links struct {
	mu    sync.RWMutex
	store *Store
	edges map[string][]Edge
}

// NewLinks creates an adjacency layer over the store.
func NewLinks(store *Store) *Links {
	return &Links{
		store: store,
		edges: make(map[string][]Edge),
	}
}

// Link adds a directed edge between two templates the store holds.
// Re-linking the same pair with the same relation updates the weight.
func (l *Links) Link(from, to, relation string, weight float64) error {
	if _, ok := l.store.GetTemplate(from); !ok {
		return NewLookupError("link source not found", nil).
			WithTemplate(from).WithCode(ErrCodeNotFound)
	}
	if _, ok := l.store.GetTemplate(to); !ok {
		return NewLookupError("link target not found", nil).
			WithTemplate(to).WithCode(ErrCodeNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.edges[from] {
		if e.To == to && e.Relation == relation {
			l.edges[from][i].Weight = weight
			return nil
		}
	}
	l.edges[from] = append(l.edges[from], Edge{
		From:     from,
		To:       to,
		Relation: relation,
		Weight:   weight,
	})
	return nil
}

// Neighbors returns the outgoing edges of a template, in insertion order.
func (l *Links) Neighbors(id string) []Edge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Edge(nil), l.edges[id]...)
}

// Unlink removes all edges between two templates.
func (l *Links) Unlink(from, to string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.edges[from][:0]
	for _, e := range l.edges[from] {
		if e.To != to {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(l.edges, from)
		return
	}
	l.edges[from] = kept
}

// TransferReport summarizes a cross-store knowledge transfer.
type TransferReport struct {
	// Candidates is the number of templates considered.
	Candidates int `json:"candidates"`

	// GapFills counts templates the target did not hold at all.
	GapFills int `json:"gap_fills"`

	// Upgrades counts templates replaced by a strictly better aggregate.
	Upgrades int `json:"upgrades"`

	// Skipped counts templates the target already held with an equal or
	// better aggregate.
	Skipped int `json:"skipped"`
}

// Accepted returns the total number of templates the target took.
func (r TransferReport) Accepted() int { return r.GapFills + r.Upgrades }

// Transfer synchronizes knowledge from src into dst. Every template in src
// is a candidate, vetoed and zero-scored records included: knowing what
// fails is knowledge the target may lack. A template the target does not
// hold is taken unconditionally (gap fill). A template the target already
// holds is replaced only when the source aggregate is strictly greater
// (upgrade); ties keep the target's record.
func Transfer(src, dst *Store) TransferReport {
	var report TransferReport

	src.mu.RLock()
	candidates := make([]*Template, 0, len(src.order))
	for _, id := range src.order {
		candidates = append(candidates, src.templates[id].Clone())
	}
	srcName := src.name
	src.mu.RUnlock()

	report.Candidates = len(candidates)

	dst.mu.Lock()
	defer dst.mu.Unlock()

	now := time.Now().UTC()
	for _, tpl := range candidates {
		existing, known := dst.templates[tpl.ID]
		if known {
			if tpl.AggregateScore <= existing.AggregateScore {
				report.Skipped++
				continue
			}
			stampProvenance(tpl, srcName, "upgrade")
			tpl.ModifiedAt = now
			dst.templates[tpl.ID] = tpl
			report.Upgrades++
			continue
		}

		stampProvenance(tpl, srcName, "gap_fill")
		tpl.ModifiedAt = now
		dst.templates[tpl.ID] = tpl
		dst.order = append(dst.order, tpl.ID)
		dst.appendIndexLocked(dst.stems, "transferred", tpl.ID)
		report.GapFills++
	}
	dst.modifiedAt = now

	dst.logger.Info().
		Str("source", srcName).
		Int("candidates", report.Candidates).
		Int("gap_fills", report.GapFills).
		Int("upgrades", report.Upgrades).
		Int("skipped", report.Skipped).
		Msg("Knowledge transfer complete")

	return report
}

func stampProvenance(tpl *Template, source, reason string) {
	if tpl.Metadata == nil {
		tpl.Metadata = NewAttrs()
	}
	tpl.Metadata.Set("provenance", fmt.Sprintf("transfer::%s::%s", source, reason))
}
