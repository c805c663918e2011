// Package display provides human-readable output for run summaries.
//
// Rule: code is for machines, words are for humans.
// Keep raw reason codes for JSON, the ledger, and metric labels; use these
// functions for terminal output.
package display

import (
	"time"

	"github.com/dustin/go-humanize"

	"reportsync/internal/merge"
	"reportsync/internal/unpacker"
)

var reasons = map[string]string{
	merge.ReasonUnsupported:  "Unsupported file type",
	merge.ReasonEmpty:        "Empty file",
	merge.ReasonMalformed:    "Invalid JSON",
	merge.ReasonNotObject:    "Valid JSON but not an object",
	merge.ReasonFailedStatus: "Report marked failed",
	merge.ReasonErrorFlag:    "Error flag set",
	merge.ReasonMockFlag:     "Mock or simulated data",
	merge.ReasonBadName:      "Unparseable name",
	merge.ReasonDepth:        "Nested too deep",
	unpacker.ReasonBadPath:   "Unsafe path",
	unpacker.ReasonDecode:    "Undecodable content",
}

// Reason returns the label for a rejection reason. Unknown codes are
// returned as-is.
func Reason(code string) string {
	if label, ok := reasons[code]; ok {
		return label
	}
	return code
}

// ReasonWithCode returns "Empty file (empty)".
func ReasonWithCode(code string) string {
	if label, ok := reasons[code]; ok {
		return label + " (" + code + ")"
	}
	return code
}

var stages = map[string]string{
	"pack":    "Pack",
	"deliver": "Deliver",
	"merge":   "Merge",
	"run":     "Full run",
}

// Stage returns the label for a ledger stage.
func Stage(code string) string {
	if label, ok := stages[code]; ok {
		return label
	}
	return code
}

// Size formats a byte count, e.g. "1.2 MB".
func Size(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// Ago formats t relative to now, e.g. "3 days ago". The zero time is "never".
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Duration formats a duration as "Xm Ys" or "Ys".
func Duration(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	if s >= 60 {
		return humanize.Comma(int64(s/60)) + "m " + humanize.Comma(int64(s%60)) + "s"
	}
	return humanize.Comma(int64(s)) + "s"
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
