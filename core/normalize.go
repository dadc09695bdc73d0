package core

import (
	"bytes"
	"encoding/json"
)

// Normalize reconciles the envelopes the service uses for list results.
// In priority order: a bare array is returned as is; an object whose
// "results" is an array yields that array; an object whose "result" is an
// array yields that array; anything else becomes a one-element slice.
func Normalize(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if arr, ok := t["results"].([]any); ok {
			return arr
		}
		if arr, ok := t["result"].([]any); ok {
			return arr
		}
	}
	return []any{v}
}

// NormalizeArray applies the Normalize rules to raw JSON and decodes the
// selected elements into T.
func NormalizeArray[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}

	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		for _, key := range []string{"results", "result"} {
			if inner, ok := obj[key]; ok && isJSONArray(inner) {
				trimmed = bytes.TrimSpace(inner)
				break
			}
		}
	}

	if isJSONArray(trimmed) {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		if out == nil {
			out = []T{}
		}
		return out, nil
	}

	var single T
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []T{single}, nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
