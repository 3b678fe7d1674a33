// Package mapval reads values out of the free-form maps supplied by
// upstream agents (trigger configuration, step results, transition
// metadata). Maps arrive from JSON decoding or from Go callers, so the
// accessors normalize across the value shapes both produce: float64 vs
// int, []any vs []string, RFC 3339 strings vs time.Time.
package mapval

import (
	"strconv"
	"strings"
	"time"
)

// String returns the string value at key, or "" when the key is absent or
// holds a non-string. Leading and trailing whitespace is trimmed.
func String(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// FirstString returns the first non-empty string found across keys,
// checked in order.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := String(m, k); s != "" {
			return s
		}
	}
	return ""
}

// Bool returns the boolean value at key. The second return reports whether
// the key held a boolean (or a recognizable "true"/"false" string).
func Bool(m map[string]any, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Int returns the integer value at key, accepting int, int64, float64
// (JSON numbers), and numeric strings.
func Int(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	return toInt(m[key])
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Map returns the nested map at key, or nil when the key is absent or
// holds a non-map.
func Map(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	return nil
}

// Strings returns the list of non-empty strings at key. A single string
// value is treated as a one-element list; []any lists are filtered down
// to their string members.
func Strings(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []string:
		return filterStrings(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func filterStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Time returns the timestamp at key, accepting time.Time values and
// RFC 3339 strings.
func Time(m map[string]any, key string) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsEmpty reports whether v carries no usable content: nil, an empty or
// blank string, or an empty map or slice.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}
