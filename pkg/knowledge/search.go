package knowledge

import (
	"fmt"
	"sort"
	"strings"
)

// Match pairs a template copy with its search relevance.
type Match struct {
	// Template is a deep copy of the matched template.
	Template *Template

	// Relevance is the weighted word-overlap score.
	Relevance int
}

// FindByContext performs a ranked relevance search over the store. For
// each template the relevance is
//
//	3 x word overlap with the name
//	2 x word overlap with the purpose
//	1 x word overlap with any metadata value
//
// Templates with zero relevance are excluded. Results are sorted by
// relevance descending; equal relevance preserves insertion order.
func (s *Store) FindByContext(text string) []*Template {
	matches := s.FindByContextScored(text)
	out := make([]*Template, len(matches))
	for i, m := range matches {
		out[i] = m.Template
	}
	return out
}

// FindByContextScored is FindByContext with relevance scores exposed.
func (s *Store) FindByContextScored(text string) []Match {
	query := tokenize(text)
	if len(query) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, id := range s.order {
		tpl := s.templates[id]
		relevance := 3*overlap(query, tokenize(tpl.Name)) +
			2*overlap(query, tokenize(tpl.Purpose)) +
			metadataOverlap(query, tpl.Metadata)
		if relevance > 0 {
			matches = append(matches, Match{Template: tpl.Clone(), Relevance: relevance})
		}
	}

	// Stable sort keeps insertion order for equal relevance.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})
	return matches
}

// tokenize lowercases and splits text into a word set.
func tokenize(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, ".,;:!?\"'()")] = struct{}{}
	}
	delete(set, "")
	return set
}

// overlap counts the words present in both sets.
func overlap(query, words map[string]struct{}) int {
	n := 0
	for w := range query {
		if _, ok := words[w]; ok {
			n++
		}
	}
	return n
}

// metadataOverlap sums the word overlap between the query and every
// metadata value rendered as text.
func metadataOverlap(query map[string]struct{}, meta *Attrs) int {
	n := 0
	meta.Range(func(_ string, value any) bool {
		n += overlap(query, tokenize(fmt.Sprintf("%v", value)))
		return true
	})
	return n
}
