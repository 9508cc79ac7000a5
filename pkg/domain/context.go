package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// SagaContext is the ordered name -> value mapping accumulated while a saga runs.
// Insertion order is kept across Set, Merge and JSON round-trips.
// Overriding an existing key keeps its original position.
type SagaContext struct {
	keys   []string
	values map[string]any
}

// NewContext creates a context from alternating key/value pairs.
// It panics on an odd number of arguments or a non-string key, like a literal would fail to compile.
func NewContext(pairs ...any) *SagaContext {
	if len(pairs)%2 != 0 {
		panic("domain.NewContext: odd number of arguments")
	}
	c := &SagaContext{values: make(map[string]any, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("domain.NewContext: key at position %d is %T, not string", i, pairs[i]))
		}
		c.Set(key, pairs[i+1])
	}
	return c
}

// ContextFromMap builds a context from a plain map. Keys are inserted in the order given by keys;
// any map key missing from keys is ignored.
func ContextFromMap(m map[string]any, keys ...string) *SagaContext {
	c := NewContext()
	for _, k := range keys {
		if v, ok := m[k]; ok {
			c.Set(k, v)
		}
	}
	return c
}

func (c *SagaContext) init() {
	if c.values == nil {
		c.values = make(map[string]any)
	}
}

// Set stores value under key.
func (c *SagaContext) Set(key string, value any) {
	c.init()
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value stored under key.
func (c *SagaContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Delete removes key, preserving the order of the remaining keys.
func (c *SagaContext) Delete(key string) {
	if c == nil {
		return
	}
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (c *SagaContext) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of entries.
func (c *SagaContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Merge applies every entry of other, in its order, on top of c.
// Later writers win for repeated keys.
func (c *SagaContext) Merge(other *SagaContext) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		c.Set(k, other.values[k])
	}
}

// Clone returns a copy that shares no top-level storage with c.
// Nested maps and slices are copied too so a callback cannot mutate the original through them.
func (c *SagaContext) Clone() *SagaContext {
	out := &SagaContext{values: make(map[string]any, c.Len())}
	if c == nil {
		return out
	}
	out.keys = make([]string, len(c.keys))
	copy(out.keys, c.keys)
	for k, v := range c.values {
		out.values[k] = deepCopy(v)
	}
	return out
}

// Map returns an unordered copy of the entries.
func (c *SagaContext) Map() map[string]any {
	out := make(map[string]any, c.Len())
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = deepCopy(v)
	}
	return out
}

// Decode copies the entries into out (a pointer to a struct or map) using json tags.
func (c *SagaContext) Decode(out any) error {
	return decodeInto(c.Map(), out)
}

// Equal reports whether both contexts hold the same keys in the same order.
// Values are compared by their JSON encoding.
func (c *SagaContext) Equal(other *SagaContext) bool {
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// MarshalJSON encodes the context as a JSON object keeping insertion order.
func (c *SagaContext) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if c != nil {
		for i, k := range c.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(c.values[k])
			if err != nil {
				return nil, fmt.Errorf("context key %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, recording keys in document order.
func (c *SagaContext) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]any)

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("saga context: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("saga context: expected string key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("saga context key %q: %w", key, err)
		}
		c.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = deepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = deepCopy(inner)
		}
		return out
	case *SagaContext:
		return t.Clone()
	default:
		return v
	}
}

func decodeInto(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
