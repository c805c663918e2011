// Package unpacker turns published payloads back into files under the
// staging area and retires payloads past their retention period.
package unpacker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"reportsync/internal/config"
	"reportsync/internal/logging"
	"reportsync/internal/mailbox"
	"reportsync/internal/payload"
)

// PlaceholderName keeps an otherwise empty job directory in the store.
const PlaceholderName = ".gitkeep"

// Rejection reasons for payload entries.
const (
	ReasonBadPath = "bad-path"
	ReasonDecode  = "decode"
)

// FileRejection is a payload entry that will never be written.
type FileRejection struct {
	Path   string
	Reason string
	Detail string
}

// JobResult is the outcome of one triggered job.
type JobResult struct {
	Job      string
	Written  []string
	Rejected []FileRejection
	// Pending entries failed with a retryable error; the trigger stays.
	Pending   []string
	Completed bool
}

// JobFailure is a trigger that could not be processed at all.
type JobFailure struct {
	Trigger string
	Job     string
	Err     error
}

// Report summarizes one Unpack invocation.
type Report struct {
	Jobs   []JobResult
	Failed []JobFailure
}

// Err aggregates job failures, or returns nil.
func (r *Report) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failed {
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", f.Trigger, f.Err))
	}
	return merr.ErrorOrNil()
}

// SweepReport summarizes one retention sweep.
type SweepReport struct {
	Deleted []string
	Kept    int
}

// Unpacker is the consumer side of the payload mailbox.
type Unpacker struct {
	cfg   *config.Config
	store mailbox.Store
	log   *slog.Logger

	Now        func() time.Time
	OnConflict func(attempt int)
}

// New returns an Unpacker reading from store.
func New(cfg *config.Config, store mailbox.Store) *Unpacker {
	return &Unpacker{
		cfg:   cfg,
		store: store,
		log:   logging.New("unpacker"),
		Now:   time.Now,
	}
}

func (u *Unpacker) abs(rel string) string {
	return filepath.Join(u.store.Root(), filepath.FromSlash(rel))
}

func (u *Unpacker) commitOpts() []mailbox.CommitOption {
	if u.OnConflict == nil {
		return nil
	}
	return []mailbox.CommitOption{mailbox.OnConflict(u.OnConflict)}
}

// Unpack processes every pending trigger and publishes all effects as one
// store change.
func (u *Unpacker) Unpack(ctx context.Context) (*Report, error) {
	var report *Report
	err := mailbox.Commit(ctx, u.store, u.cfg.Store.Attempts, "unpack pending jobs",
		func(ctx context.Context) ([]string, error) {
			r, touched, err := u.unpackAll(ctx)
			report = r
			return touched, err
		}, u.commitOpts()...)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (u *Unpacker) unpackAll(ctx context.Context) (*Report, []string, error) {
	report := &Report{}
	triggers, err := listJSON(u.abs(u.cfg.Layout.TriggerDir))
	if err != nil {
		return nil, nil, err
	}
	var touched []string
	for _, name := range triggers {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		trel := path.Join(u.cfg.Layout.TriggerDir, name)
		res, paths, err := u.unpackJob(trel)
		if err != nil {
			u.log.Error("job failed", "trigger", trel, "error", err)
			report.Failed = append(report.Failed, JobFailure{Trigger: trel, Job: strings.TrimSuffix(name, ".json"), Err: err})
			continue
		}
		report.Jobs = append(report.Jobs, *res)
		touched = append(touched, paths...)
	}
	return report, touched, nil
}

func (u *Unpacker) unpackJob(trel string) (*JobResult, []string, error) {
	data, err := os.ReadFile(u.abs(trel))
	if err != nil {
		return nil, nil, fmt.Errorf("read trigger: %w", err)
	}
	tr, err := payload.DecodeTrigger(data)
	if err != nil {
		return nil, nil, err
	}
	job := payload.SanitizeRelPath(tr.JobName)
	if job == "" || strings.Contains(job, "/") {
		return nil, nil, fmt.Errorf("%w: job name %q", payload.ErrMalformed, tr.JobName)
	}
	prel := payload.SanitizeRelPath(tr.RawPath)
	raw, err := os.ReadFile(u.abs(prel))
	if err != nil {
		return nil, nil, fmt.Errorf("read payload %s: %w", prel, err)
	}
	bp, err := payload.Decode(raw)
	if err != nil {
		return nil, nil, err
	}

	jobRel := path.Join(u.cfg.Layout.StagingDir, job)
	jobDir := u.abs(jobRel)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create job dir: %w", err)
	}

	res := &JobResult{Job: job}
	keys := make([]string, 0, len(bp.Files))
	for k := range bp.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := bp.Files[key]
		rel := payload.SanitizeRelPath(entry.RelativePath)
		if rel == "" {
			res.Rejected = append(res.Rejected, FileRejection{Path: entry.RelativePath, Reason: ReasonBadPath})
			continue
		}
		content, err := entry.Bytes()
		if err != nil {
			u.log.Warn("undecodable entry", "job", job, "path", rel, "error", err)
			res.Rejected = append(res.Rejected, FileRejection{Path: rel, Reason: ReasonDecode, Detail: err.Error()})
			continue
		}
		if err := mailbox.WriteFileAtomic(filepath.Join(jobDir, filepath.FromSlash(rel)), content); err != nil {
			u.log.Warn("write failed, job stays pending", "job", job, "path", rel, "error", err)
			res.Pending = append(res.Pending, rel)
			continue
		}
		res.Written = append(res.Written, rel)
	}
	if len(res.Written) == 0 {
		if err := os.WriteFile(filepath.Join(jobDir, PlaceholderName), nil, 0o644); err != nil {
			return nil, nil, fmt.Errorf("write placeholder: %w", err)
		}
	}

	touched := []string{jobRel}
	if len(res.Pending) == 0 {
		res.Completed = true
		if err := os.Remove(u.abs(trel)); err != nil {
			return nil, nil, fmt.Errorf("remove trigger: %w", err)
		}
		touched = append(touched, trel)
		if !u.cfg.Unpacker.KeepPayloads {
			if err := os.Remove(u.abs(prel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, nil, fmt.Errorf("remove payload: %w", err)
			}
			touched = append(touched, prel)
		}
	}
	u.log.Info("unpacked job", "job", job, "written", len(res.Written),
		"rejected", len(res.Rejected), "pending", len(res.Pending), "completed", res.Completed)
	return res, touched, nil
}

// Sweep deletes payloads last published longer ago than the retention
// period, whether or not they were unpacked. Payloads whose publish time is
// unknown are kept.
func (u *Unpacker) Sweep(ctx context.Context) (*SweepReport, error) {
	var report *SweepReport
	err := mailbox.Commit(ctx, u.store, u.cfg.Store.Attempts, "sweep expired payloads",
		func(ctx context.Context) ([]string, error) {
			report = &SweepReport{}
			names, err := listJSON(u.abs(u.cfg.Layout.PayloadDir))
			if err != nil {
				return nil, err
			}
			cutoff := u.Now().Add(-u.cfg.Unpacker.Retention)
			for _, name := range names {
				rel := path.Join(u.cfg.Layout.PayloadDir, name)
				mt, err := u.store.ModTime(ctx, rel)
				if err != nil {
					return nil, fmt.Errorf("mod time %s: %w", rel, err)
				}
				if mt.IsZero() || !mt.Before(cutoff) {
					report.Kept++
					continue
				}
				if err := os.Remove(u.abs(rel)); err != nil {
					return nil, fmt.Errorf("delete %s: %w", rel, err)
				}
				u.log.Info("deleted expired payload", "path", rel, "published", mt)
				report.Deleted = append(report.Deleted, rel)
			}
			return report.Deleted, nil
		}, u.commitOpts()...)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// listJSON returns the sorted names of *.json files directly in dir.
// A missing dir has no entries.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
