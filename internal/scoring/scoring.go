// Package scoring relays score records from an external scorer into a
// sidecar file next to the archive. The scorer itself is opaque.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrInvalidRecord marks scorer output that is not a usable record.
var ErrInvalidRecord = errors.New("invalid score record")

// Record is one scorer verdict.
type Record struct {
	TotalScore float64  `json:"total_score"`
	Grade      string   `json:"grade"`
	Metrics    []Metric `json:"metrics"`
}

// Metric is one weighted component of a Record.
type Metric struct {
	Metric       string  `json:"metric"`
	Weight       float64 `json:"weight"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Actual       float64 `json:"actual"`
	Contribution float64 `json:"contribution"`
	Grade        string  `json:"grade"`
}

// Scorer produces a Record for one archived report.
type Scorer interface {
	Score(ctx context.Context, path string) (*Record, error)
}

// DecodeRecord parses scorer output. A record needs a grade.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.Grade == "" {
		return nil, fmt.Errorf("%w: no grade", ErrInvalidRecord)
	}
	return &r, nil
}

// ExecScorer runs Command with the report path appended and reads a Record
// from its stdout.
type ExecScorer struct {
	Command []string
}

func (e *ExecScorer) Score(ctx context.Context, path string) (*Record, error) {
	if len(e.Command) == 0 {
		return nil, errors.New("scorer command is empty")
	}
	args := append(append([]string(nil), e.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run scorer on %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return DecodeRecord(stdout.Bytes())
}
