package models

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// NormalizeValue converts a field value to its JSON-canonical Go form:
// numbers become float64, structs and typed maps become map[string]any,
// slices become []any. Values read back from any store compare equal to
// values written by a session only after this normalization.
func NormalizeValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return out, nil
}

// CloneValue returns a deep copy of a normalized value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneFields returns a deep copy of a field map. A nil map stays nil.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = CloneValue(v)
	}
	return out
}

// ValuesEqual compares two field values after normalization.
func ValuesEqual(a, b any) bool {
	na, err := NormalizeValue(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeValue(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}
