// Package store is the run ledger: a record of every pipeline run, the files
// it rejected, and the jobs it delivered. Implementations are SQLite or
// in-memory.
package store

import "time"

// DefaultDBPath is the default relative path for the SQLite ledger.
// Open creates the parent dir.
const DefaultDBPath = ".reportsync/ledger.db"

// Run stages.
const (
	StageDeliver = "deliver"
	StageMerge   = "merge"
	StageRun     = "run"
	StagePack    = "pack"
)

// Run is one pipeline invocation.
type Run struct {
	ID         string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Merged     int
	Rejected   int
	Pending    int
	Superseded int
	Error      string
}

// RunTotals are the counts recorded when a run finishes.
type RunTotals struct {
	Merged     int
	Rejected   int
	Pending    int
	Superseded int
	Err        error
}

// Rejection is one file a run refused to merge.
type Rejection struct {
	RunID   string
	Package string
	Path    string
	Reason  string
	Detail  string
}

// Delivery is one job handled by an unpack.
type Delivery struct {
	RunID  string
	Job    string
	Files  int
	Failed bool
}

// Ledger is the persistence facade used by the pipeline and the CLI.
type Ledger interface {
	StartRun(stage string, at time.Time) (runID string, err error)
	FinishRun(runID string, at time.Time, totals RunTotals) error
	RecordRejections(runID string, rejections []Rejection) error
	RecordDelivery(runID string, d Delivery) error
	// ListRuns returns the most recent runs first; limit <= 0 means all.
	ListRuns(limit int) ([]Run, error)
	ListRejections(runID string) ([]Rejection, error)
	ListDeliveries(runID string) ([]Delivery, error)
	Close() error
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
