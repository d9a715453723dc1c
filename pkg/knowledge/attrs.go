package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attrs is an ordered key-value map used for template metadata, unit
// parameters and context data. It preserves insertion order across
// serialization round-trips and offers typed accessors, replacing the
// untyped bags the persisted document format still expresses as plain
// JSON objects.
type Attrs struct {
	keys   []string
	values map[string]any
}

// NewAttrs creates an empty ordered attribute map.
func NewAttrs() *Attrs {
	return &Attrs{values: make(map[string]any)}
}

// AttrsFrom creates an attribute map from alternating key/value pairs.
// Keys must be strings; a non-string key panics, as it indicates a
// programming error at the call site.
func AttrsFrom(pairs ...any) *Attrs {
	if len(pairs)%2 != 0 {
		panic("knowledge: AttrsFrom requires an even number of arguments")
	}
	a := NewAttrs()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("knowledge: AttrsFrom key %d is not a string", i/2))
		}
		a.Set(key, pairs[i+1])
	}
	return a
}

// Set stores a value under key, appending the key to the order on first
// insertion. Setting an existing key overwrites in place.
func (a *Attrs) Set(key string, value any) {
	if a.values == nil {
		a.values = make(map[string]any)
	}
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Get returns the value stored under key.
func (a *Attrs) Get(key string) (any, bool) {
	if a == nil || a.values == nil {
		return nil, false
	}
	v, ok := a.values[key]
	return v, ok
}

// String returns the value under key as a string.
func (a *Attrs) String(key string) (string, bool) {
	v, ok := a.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the value under key as a float64. JSON numbers decode as
// float64, so this also covers integer-valued attributes from documents.
func (a *Attrs) Float(key string) (float64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Bool returns the value under key as a bool.
func (a *Attrs) Bool(key string) (bool, bool) {
	v, ok := a.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Len returns the number of entries.
func (a *Attrs) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Keys returns the keys in insertion order.
func (a *Attrs) Keys() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Range calls fn for each entry in insertion order. Returning false from
// fn stops the iteration.
func (a *Attrs) Range(fn func(key string, value any) bool) {
	if a == nil {
		return
	}
	for _, k := range a.keys {
		if !fn(k, a.values[k]) {
			return
		}
	}
}

// Merge copies every entry of other into a, overwriting on key conflict
// while keeping a's original ordering for existing keys.
func (a *Attrs) Merge(other *Attrs) {
	if other == nil {
		return
	}
	other.Range(func(key string, value any) bool {
		a.Set(key, value)
		return true
	})
}

// Clone returns a shallow copy of the attribute map.
func (a *Attrs) Clone() *Attrs {
	out := NewAttrs()
	a.Range(func(key string, value any) bool {
		out.Set(key, value)
		return true
	})
	return out
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (a *Attrs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(a.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving its key order.
func (a *Attrs) UnmarshalJSON(data []byte) error {
	a.keys = nil
	a.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("knowledge: attrs must be a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("knowledge: attrs key is not a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return err
		}
		a.Set(key, value)
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
