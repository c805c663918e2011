package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	"reportsync/internal/logging"
	"reportsync/internal/mailbox"
)

// SidecarVersion is the scores file schema version.
const SidecarVersion = 1

// Sidecar maps archive-relative report paths to their score records.
type Sidecar struct {
	Version int                `json:"version"`
	Scores  map[string]*Record `json:"scores"`
}

// ReadSidecar loads the sidecar at path; a missing file is an empty sidecar.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Sidecar{Version: SidecarVersion, Scores: map[string]*Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}
	if s.Version != SidecarVersion {
		return nil, fmt.Errorf("unsupported scores version %d", s.Version)
	}
	if s.Scores == nil {
		s.Scores = map[string]*Record{}
	}
	return &s, nil
}

// Update is one file to (re)score.
type Update struct {
	Path    string // archive-relative
	Changed bool
}

// RelayResult summarizes one relay pass.
type RelayResult struct {
	Scored []string
	Pruned []string
}

// Relay keeps the sidecar in step with the archive.
type Relay struct {
	scorer     Scorer
	archiveDir string
	sidecar    string
	log        *slog.Logger
}

// NewRelay returns a relay writing to sidecarPath for reports under archiveDir.
func NewRelay(scorer Scorer, archiveDir, sidecarPath string) *Relay {
	return &Relay{scorer: scorer, archiveDir: archiveDir, sidecar: sidecarPath, log: logging.New("scoring")}
}

// Apply scores changed files and files without a record, prunes records of
// files no longer in the archive, and rewrites the sidecar. Scorer failures
// are collected; the sidecar is still written with every record that
// succeeded.
func (r *Relay) Apply(ctx context.Context, updates []Update) (*RelayResult, error) {
	side, err := ReadSidecar(r.sidecar)
	if err != nil {
		return nil, err
	}
	res := &RelayResult{}
	var errs *multierror.Error

	for _, u := range updates {
		if _, ok := side.Scores[u.Path]; ok && !u.Changed {
			continue
		}
		rec, err := r.scorer.Score(ctx, filepath.Join(r.archiveDir, filepath.FromSlash(u.Path)))
		if err != nil {
			r.log.Warn("scoring failed", "path", u.Path, "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		side.Scores[u.Path] = rec
		res.Scored = append(res.Scored, u.Path)
	}

	keys := make([]string, 0, len(side.Scores))
	for k := range side.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := os.Stat(filepath.Join(r.archiveDir, filepath.FromSlash(k))); errors.Is(err, fs.ErrNotExist) {
			delete(side.Scores, k)
			res.Pruned = append(res.Pruned, k)
			r.log.Info("pruned score record", "path", k)
		}
	}

	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal scores: %w", err)
	}
	if err := mailbox.WriteFileAtomic(r.sidecar, append(data, '\n')); err != nil {
		return nil, err
	}
	return res, errs.ErrorOrNil()
}
