package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Meta is a string-keyed map that remembers insertion order. It marshals to a
// JSON object with keys in that order. The zero value is ready to use.
type Meta struct {
	keys   []string
	values map[string]any
}

// NewMeta builds a Meta from alternating key/value pairs. A trailing key
// without a value is stored as nil.
func NewMeta(pairs ...any) Meta {
	var m Meta
	for i := 0; i < len(pairs); i += 2 {
		key := fmt.Sprint(pairs[i])
		var value any
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		m.Set(key, value)
	}
	return m
}

// Set stores value under key. Existing keys keep their position.
func (m *Meta) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m Meta) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key, if present.
func (m *Meta) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (m Meta) Len() int {
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m Meta) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m Meta) Range(fn func(key string, value any) bool) {
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a Meta with its own key order and value map. Values are
// shared, not deep-copied.
func (m Meta) Clone() Meta {
	out := Meta{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string]any, len(m.values)),
	}
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// Map returns the entries as a plain map, losing order.
func (m Meta) Map() map[string]any {
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler, keeping insertion order.
func (m Meta) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("meta key %q: %w", k, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the document's key order.
// Nested objects decode as map[string]any. Numbers decode as float64 unless
// that would lose digits, in which case they stay json.Number.
func (m *Meta) UnmarshalJSON(data []byte) error {
	*m = Meta{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("meta: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("meta: expected string key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("meta key %q: %w", key, err)
		}
		m.Set(key, exactNumbers(value))
	}
	_, err = dec.Token()
	return err
}

// exactNumbers replaces each json.Number in v with a float64 when the float
// holds the same value.
func exactNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return numberValue(val)
	case []any:
		for i, elem := range val {
			val[i] = exactNumbers(elem)
		}
		return val
	case map[string]any:
		for k, elem := range val {
			val[k] = exactNumbers(elem)
		}
		return val
	}
	return v
}

const maxExactInt = 1 << 53

func numberValue(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil || i > maxExactInt || i < -maxExactInt {
			return n
		}
		return float64(i)
	}
	f, err := n.Float64()
	if err != nil {
		return n
	}
	return f
}
