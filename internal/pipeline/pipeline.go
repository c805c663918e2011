// Package pipeline wires packaging, delivery, merging, indexing, and score
// relay over one durable store, recording every run in the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"reportsync/internal/config"
	"reportsync/internal/logging"
	"reportsync/internal/mailbox"
	"reportsync/internal/manifest"
	"reportsync/internal/merge"
	"reportsync/internal/metrics"
	"reportsync/internal/packager"
	"reportsync/internal/scoring"
	"reportsync/internal/store"
	"reportsync/internal/unpacker"
)

// Pipeline runs the stages for one configuration.
type Pipeline struct {
	cfg     *config.Config
	store   mailbox.Store
	ledger  store.Ledger
	metrics *metrics.Metrics
	log     *slog.Logger

	// Scorer is optional; nil disables the score relay.
	Scorer scoring.Scorer
	// DryRun plans merges without writing or publishing.
	DryRun bool
	Now    func() time.Time
}

// New returns a Pipeline. A nil ledger records into memory and nil metrics
// get a private registry.
func New(cfg *config.Config, st mailbox.Store, ledger store.Ledger, m *metrics.Metrics) *Pipeline {
	if ledger == nil {
		ledger = store.NewMemStore()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		ledger:  ledger,
		metrics: m,
		log:     logging.New("pipeline"),
		Now:     time.Now,
	}
}

func (p *Pipeline) abs(rel string) string {
	return filepath.Join(p.store.Root(), filepath.FromSlash(rel))
}

// Pack publishes src as one payload.
func (p *Pipeline) Pack(ctx context.Context, src, job string) (*packager.Result, error) {
	runID, err := p.ledger.StartRun(store.StagePack, p.Now())
	if err != nil {
		return nil, err
	}
	pk := packager.New(p.cfg, p.store)
	pk.OnConflict = p.metrics.Conflict
	res, err := pk.Pack(ctx, src, job)
	if err == nil {
		p.metrics.PayloadsPacked.Inc()
		err = p.ledger.RecordDelivery(runID, store.Delivery{Job: res.Job, Files: res.Files})
	}
	return res, p.finish(runID, store.StagePack, &RunSummary{}, err)
}

// Deliver unpacks pending jobs and sweeps expired payloads.
func (p *Pipeline) Deliver(ctx context.Context) (*RunSummary, error) {
	return p.run(ctx, store.StageDeliver, p.deliver)
}

// Unpack processes pending triggers only.
func (p *Pipeline) Unpack(ctx context.Context) (*RunSummary, error) {
	return p.run(ctx, store.StageDeliver, p.unpack)
}

// Sweep deletes payloads past retention only.
func (p *Pipeline) Sweep(ctx context.Context) (*RunSummary, error) {
	return p.run(ctx, store.StageDeliver, p.sweep)
}

// Merge runs a merge pass, rebuilds the manifest, and relays scores.
func (p *Pipeline) Merge(ctx context.Context) (*RunSummary, error) {
	return p.run(ctx, store.StageMerge, p.merge)
}

// Run delivers and then merges.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	return p.run(ctx, store.StageRun, func(ctx context.Context, runID string, sum *RunSummary) error {
		if err := p.deliver(ctx, runID, sum); err != nil {
			return err
		}
		return p.merge(ctx, runID, sum)
	})
}

type stageFunc func(ctx context.Context, runID string, sum *RunSummary) error

func (p *Pipeline) run(ctx context.Context, stage string, fn stageFunc) (*RunSummary, error) {
	start := p.Now()
	runID, err := p.ledger.StartRun(stage, start)
	if err != nil {
		return nil, err
	}
	sum := &RunSummary{RunID: runID, Stage: stage, StartedAt: start}
	err = fn(ctx, runID, sum)
	sum.FinishedAt = p.Now()
	if ferr := p.finish(runID, stage, sum, err); ferr != nil {
		return sum, ferr
	}
	return sum, nil
}

// finish closes the ledger run and dumps metrics. The stage error wins
// over bookkeeping errors.
func (p *Pipeline) finish(runID, stage string, sum *RunSummary, err error) error {
	totals := sum.Totals()
	totals.Err = err
	if lerr := p.ledger.FinishRun(runID, p.Now(), totals); lerr != nil {
		p.log.Error("ledger finish failed", "run", runID, "error", lerr)
		if err == nil {
			err = lerr
		}
	}
	if err == nil {
		p.metrics.MarkRun(stage, p.Now())
	}
	if merr := p.metrics.WriteTextfile(p.cfg.Metrics.Textfile); merr != nil {
		p.log.Warn("metrics textfile not written", "error", merr)
	}
	return err
}

func (p *Pipeline) newUnpacker() *unpacker.Unpacker {
	u := unpacker.New(p.cfg, p.store)
	u.Now = p.Now
	u.OnConflict = p.metrics.Conflict
	return u
}

func (p *Pipeline) deliver(ctx context.Context, runID string, sum *RunSummary) error {
	if err := p.unpack(ctx, runID, sum); err != nil {
		return err
	}
	return p.sweep(ctx, runID, sum)
}

func (p *Pipeline) unpack(ctx context.Context, runID string, sum *RunSummary) error {
	report, err := p.newUnpacker().Unpack(ctx)
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}
	sum.Unpack = report
	for _, job := range report.Jobs {
		p.metrics.JobsUnpacked.Inc()
		if err := p.ledger.RecordDelivery(runID, store.Delivery{Job: job.Job, Files: len(job.Written)}); err != nil {
			return err
		}
	}
	for _, f := range report.Failed {
		p.metrics.JobsFailed.Inc()
		if err := p.ledger.RecordDelivery(runID, store.Delivery{Job: f.Job, Failed: true}); err != nil {
			return err
		}
	}
	if err := report.Err(); err != nil {
		p.log.Warn("some jobs could not be unpacked", "error", err)
	}
	return nil
}

func (p *Pipeline) sweep(ctx context.Context, _ string, sum *RunSummary) error {
	report, err := p.newUnpacker().Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	sum.Sweep = report
	p.metrics.PayloadsSwept.Add(float64(len(report.Deleted)))
	return nil
}

func (p *Pipeline) merge(ctx context.Context, runID string, sum *RunSummary) error {
	engine := merge.New(p.cfg, p.store.Root())
	engine.DryRun = p.DryRun
	if p.DryRun {
		if err := p.store.Sync(ctx); err != nil {
			return fmt.Errorf("sync store: %w", err)
		}
		res, err := engine.Run(ctx)
		if err != nil {
			return err
		}
		sum.Merge = res
		return nil
	}

	var relay *scoring.Relay
	if p.Scorer != nil {
		relay = scoring.NewRelay(p.Scorer, p.abs(p.cfg.Layout.ArchiveDir), p.abs(p.cfg.Layout.ScoresPath))
	}

	err := mailbox.Commit(ctx, p.store, p.cfg.Store.Attempts, "merge staged reports",
		func(ctx context.Context) ([]string, error) {
			res, err := engine.Run(ctx)
			if err != nil {
				return nil, err
			}
			sum.Merge = res

			m, err := manifest.Build(p.abs(p.cfg.Layout.ArchiveDir), p.Now())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrManifest, err)
			}
			if err := manifest.Write(p.abs(p.cfg.Layout.ManifestPath), m); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrManifest, err)
			}
			sum.Manifest = &m.Totals

			touched := []string{p.cfg.Layout.StagingDir, p.cfg.Layout.ArchiveDir, p.cfg.Layout.ManifestPath}
			if relay != nil {
				updates := make([]scoring.Update, 0, len(res.Merged))
				for _, mg := range res.Merged {
					updates = append(updates, scoring.Update{Path: mg.Destination, Changed: !mg.Unchanged})
				}
				scored, err := relay.Apply(ctx, updates)
				if scored == nil && err != nil {
					return nil, fmt.Errorf("score relay: %w", err)
				}
				sum.Scores, sum.ScoreErr = scored, err
				touched = append(touched, p.cfg.Layout.ScoresPath)
			}
			return touched, nil
		}, mailbox.OnConflict(p.metrics.Conflict))
	if err != nil {
		return err
	}

	res := sum.Merge
	p.metrics.FilesMerged.Add(float64(len(res.Merged)))
	p.metrics.FilesPending.Add(float64(len(res.Pending)))
	for reason, n := range res.RejectionsByReason() {
		p.metrics.FilesRejected.WithLabelValues(reason).Add(float64(n))
	}
	rej := make([]store.Rejection, 0, len(res.Rejected))
	for _, r := range res.Rejected {
		rej = append(rej, store.Rejection{Package: r.Package, Path: r.Path, Reason: r.Reason, Detail: r.Detail})
	}
	if err := p.ledger.RecordRejections(runID, rej); err != nil {
		return err
	}
	if sum.ScoreErr != nil {
		p.log.Warn("some reports were not scored", "error", sum.ScoreErr)
	}
	return nil
}

// RebuildManifest re-indexes the archive and publishes the manifest.
func (p *Pipeline) RebuildManifest(ctx context.Context) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	err := mailbox.Commit(ctx, p.store, p.cfg.Store.Attempts, "rebuild manifest",
		func(context.Context) ([]string, error) {
			built, err := manifest.Build(p.abs(p.cfg.Layout.ArchiveDir), p.Now())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrManifest, err)
			}
			if err := manifest.Write(p.abs(p.cfg.Layout.ManifestPath), built); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrManifest, err)
			}
			m = built
			return []string{p.cfg.Layout.ManifestPath}, nil
		}, mailbox.OnConflict(p.metrics.Conflict))
	return m, err
}

// Rescore re-runs the scorer over every archived report and rewrites the
// scores sidecar.
func (p *Pipeline) Rescore(ctx context.Context) (*scoring.RelayResult, error) {
	if p.Scorer == nil {
		return nil, config.Errorf("scoring.command is not configured")
	}
	relay := scoring.NewRelay(p.Scorer, p.abs(p.cfg.Layout.ArchiveDir), p.abs(p.cfg.Layout.ScoresPath))
	var res *scoring.RelayResult
	var scoreErr error
	err := mailbox.Commit(ctx, p.store, p.cfg.Store.Attempts, "rescore archive",
		func(ctx context.Context) ([]string, error) {
			m, err := manifest.Build(p.abs(p.cfg.Layout.ArchiveDir), p.Now())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrManifest, err)
			}
			var updates []scoring.Update
			for _, h := range m.Hubs {
				for _, pr := range h.Projects {
					for _, d := range pr.Dates {
						for _, mod := range d.Models {
							updates = append(updates, scoring.Update{Path: mod.RelativePath, Changed: true})
						}
					}
				}
			}
			res, scoreErr = relay.Apply(ctx, updates)
			if res == nil {
				return nil, scoreErr
			}
			return []string{p.cfg.Layout.ScoresPath}, nil
		}, mailbox.OnConflict(p.metrics.Conflict))
	if err != nil {
		return nil, err
	}
	return res, scoreErr
}
