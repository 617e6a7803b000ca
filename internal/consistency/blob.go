// Package consistency implements the fingerprint-consistency audit:
// deterministic signal checks, prompt compaction, the LLM assessor and
// the orchestrator that ties them to profile storage.
package consistency

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConfigBlob is the parse-or-fallback view of a profile's stored
// browser configuration. Values is nil when the blob could not be
// parsed as a JSON object; checks then degrade to substring and regex
// matching against Raw.
type ConfigBlob struct {
	Raw    string
	Values map[string]any
}

// ParseConfigBlob parses the raw blob once at the checker's entry.
// A blob whose quotes arrive double-escaped gets one unescape attempt.
func ParseConfigBlob(raw string) ConfigBlob {
	blob := ConfigBlob{Raw: raw}
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			blob.Values = m
			return blob
		}
	}
	if raw != "" {
		unescaped := strings.ReplaceAll(raw, `\"`, `"`)
		var m map[string]any
		if err := json.Unmarshal([]byte(unescaped), &m); err == nil {
			blob.Values = m
		}
	}
	return blob
}

// Parsed reports whether the blob resolved to a JSON object.
func (b ConfigBlob) Parsed() bool {
	return b.Values != nil
}

// Any returns the first present value among keys.
func (b ConfigBlob) Any(keys ...string) (any, bool) {
	if b.Values == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := b.Values[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Str returns the first non-empty string among keys.
func (b ConfigBlob) Str(keys ...string) (string, bool) {
	v, ok := b.Any(keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Int returns the first coercible integer among keys.
func (b ConfigBlob) Int(keys ...string) (int, bool) {
	v, ok := b.Any(keys...)
	if !ok {
		return 0, false
	}
	return coerceInt(v)
}

// Float returns the first coercible float among keys.
func (b ConfigBlob) Float(keys ...string) (float64, bool) {
	v, ok := b.Any(keys...)
	if !ok {
		return 0, false
	}
	return coerceFloat(v)
}

// List returns the first list value among keys.
func (b ConfigBlob) List(keys ...string) ([]any, bool) {
	v, ok := b.Any(keys...)
	if !ok {
		return nil, false
	}
	l, ok := v.([]any)
	return l, ok
}

// -- loose numeric coercion, shared with the checker --

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceInt(v any) (int, bool) {
	f, ok := coerceFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
