package models

import (
	"encoding/json"
	"fmt"
)

// Sanitize returns v with every leaf that encoding/json cannot encode replaced
// by its %v text. Slices of any, string-keyed maps and Meta are walked; other
// values are checked whole.
func Sanitize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Sanitize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Sanitize(elem)
		}
		return out
	case Meta:
		return sanitizeMeta(val)
	case *Meta:
		if val == nil {
			return nil
		}
		return sanitizeMeta(*val)
	}

	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}

func sanitizeMeta(m Meta) Meta {
	var out Meta
	m.Range(func(k string, v any) bool {
		out.Set(k, Sanitize(v))
		return true
	})
	return out
}
