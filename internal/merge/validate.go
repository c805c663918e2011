package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

var errorFlags = map[string]bool{
	"error":       true,
	"is_error":    true,
	"has_error":   true,
	"debug_error": true,
}

var mockFlags = map[string]bool{
	"mock":          true,
	"is_mock":       true,
	"mock_data":     true,
	"simulated":     true,
	"is_simulation": true,
}

// Verdict is the validator's outcome for one file. Doc is set only when the
// file was accepted.
type Verdict struct {
	Reason string
	Detail string
	Doc    map[string]any
}

// Accepted reports whether the file passed every check.
func (v Verdict) Accepted() bool { return v.Reason == "" }

// Validate runs the checks in order: extension, emptiness, JSON shape,
// failed status, error flags, mock flags. The first failing check decides.
func Validate(name string, data []byte, extensions []string) Verdict {
	ext := strings.ToLower(extOf(name))
	if !slices.Contains(extensions, ext) {
		return Verdict{Reason: ReasonUnsupported, Detail: fmt.Sprintf("extension %q", ext)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Verdict{Reason: ReasonEmpty}
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Verdict{Reason: ReasonMalformed, Detail: err.Error()}
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return Verdict{Reason: ReasonNotObject, Detail: fmt.Sprintf("top-level %s", jsonKind(raw))}
	}
	if s, ok := doc["status"].(string); ok && strings.EqualFold(s, "failed") {
		return Verdict{Reason: ReasonFailedStatus}
	}
	if key, ok := findTrueFlag(doc, errorFlags); ok {
		return Verdict{Reason: ReasonErrorFlag, Detail: key}
	}
	if key, ok := findTrueFlag(doc, mockFlags); ok {
		return Verdict{Reason: ReasonMockFlag, Detail: key}
	}
	return Verdict{Doc: doc}
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// findTrueFlag searches nested objects and arrays for a flag key holding
// boolean true. Object keys are visited in sorted order.
func findTrueFlag(v any, flags map[string]bool) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if b, ok := t[k].(bool); ok && b && flags[strings.ToLower(k)] {
				return k, true
			}
		}
		for _, k := range keys {
			if key, ok := findTrueFlag(t[k], flags); ok {
				return key, true
			}
		}
	case []any:
		for _, item := range t {
			if key, ok := findTrueFlag(item, flags); ok {
				return key, true
			}
		}
	}
	return "", false
}
