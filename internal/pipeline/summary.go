package pipeline

import (
	"errors"
	"time"

	"reportsync/internal/manifest"
	"reportsync/internal/merge"
	"reportsync/internal/scoring"
	"reportsync/internal/store"
	"reportsync/internal/unpacker"
)

// ErrManifest marks a failure to build or write the manifest.
var ErrManifest = errors.New("manifest failed")

// RunSummary is everything one invocation did. Stages that did not run
// leave their fields nil.
type RunSummary struct {
	RunID      string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time

	Unpack   *unpacker.Report
	Sweep    *unpacker.SweepReport
	Merge    *merge.Summary
	Manifest *manifest.Totals
	Scores   *scoring.RelayResult
	ScoreErr error
}

// Totals are the counts recorded in the ledger.
func (s *RunSummary) Totals() store.RunTotals {
	var t store.RunTotals
	if s.Merge != nil {
		t.Merged = len(s.Merge.Merged)
		t.Rejected = len(s.Merge.Rejected)
		t.Pending = len(s.Merge.Pending)
		t.Superseded = s.Merge.Superseded
	}
	if s.Unpack != nil {
		for _, j := range s.Unpack.Jobs {
			t.Pending += len(j.Pending)
		}
	}
	return t
}
