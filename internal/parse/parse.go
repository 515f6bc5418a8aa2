// Package parse extracts structured values from untrusted generator text.
// Nothing here returns an error to the caller: a failed parse is reported
// as ok == false and the caller takes its fallback path.
package parse

import (
	"encoding/json"
	"strings"
)

// Object finds the outermost JSON object in s and decodes it. Surrounding
// prose and markdown code fences are ignored.
func Object(s string) (map[string]any, bool) {
	var out map[string]any
	if !Into(s, &out) || out == nil {
		return nil, false
	}
	return out, true
}

// Into decodes the outermost JSON object in s into v.
func Into(s string, v any) bool {
	raw, ok := span(stripFences(s), '{', '}')
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// Array finds the outermost JSON array in s and decodes it.
func Array(s string) ([]any, bool) {
	raw, ok := span(stripFences(s), '[', ']')
	if !ok {
		return nil, false
	}
	var out []any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

// Strings returns the string elements of a JSON array found in s, or of the
// array stored under key when s holds an object instead.
func Strings(s, key string) ([]string, bool) {
	trimmed := strings.TrimSpace(stripFences(s))
	if !strings.HasPrefix(trimmed, "{") {
		if arr, ok := Array(trimmed); ok {
			return stringsOf(arr), true
		}
	}
	if obj, ok := Object(trimmed); ok {
		if arr, ok := obj[key].([]any); ok {
			return stringsOf(arr), true
		}
	}
	if arr, ok := Array(trimmed); ok {
		return stringsOf(arr), true
	}
	return nil, false
}

// String returns obj[key] when it is a non-empty string.
func String(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// Float returns obj[key] as a float64 when it is numeric.
func Float(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns obj[key] when it is a boolean.
func Bool(obj map[string]any, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

func stringsOf(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		switch x := v.(type) {
		case string:
			if x = strings.TrimSpace(x); x != "" {
				out = append(out, x)
			}
		case map[string]any:
			for _, k := range []string{"title", "task", "name"} {
				if s := String(x, k); s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

func span(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
