package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"reportsync/internal/config"
	"reportsync/internal/display"
	"reportsync/internal/mailbox"
	"reportsync/internal/metrics"
	"reportsync/internal/pipeline"
	"reportsync/internal/scoring"
	"reportsync/internal/store"
)

const memoryLedger = ":memory:"

// openStore opens the configured backend. The git backend only ever cleans
// the paths reportsync manages, so the ledger can live in the same checkout.
func openStore(ctx context.Context, cfg *config.Config) (mailbox.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendDir:
		s, err := mailbox.NewDirStore(cfg.Store.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendS3:
		s, err := mailbox.OpenS3(ctx, cfg.Store.S3, cfg.Store.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		l := cfg.Layout
		s, err := mailbox.OpenGit(ctx, cfg.Store.Root, cfg.Store.Git,
			l.PayloadDir, l.TriggerDir, l.StagingDir, l.ArchiveDir, l.ManifestPath, l.ScoresPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func openLedger(cfg *config.Config) (store.Ledger, error) {
	path := cfg.Ledger.Path
	if path == memoryLedger {
		return store.NewMemStore(), nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Store.Root, path)
	}
	l, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return l, nil
}

func newScorer(cfg *config.Config) scoring.Scorer {
	if len(cfg.Scoring.Command) == 0 {
		return nil
	}
	return &scoring.ExecScorer{Command: cfg.Scoring.Command}
}

// newPipeline opens the store and ledger for one command. The returned
// close func must be called when the command is done.
func newPipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	st, err := openStore(ctx, appCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	ledger, err := openLedger(appCfg)
	if err != nil {
		return nil, nil, err
	}
	p := pipeline.New(appCfg, st, ledger, metrics.New())
	if s := newScorer(appCfg); s != nil {
		p.Scorer = s
	}
	return p, func() { _ = ledger.Close() }, nil
}

func outputMode() display.Mode {
	return display.ParseMode(rootFlags.output)
}

// printRun writes the run summary, then returns the stage error if any.
func printRun(cmd *cobra.Command, sum *pipeline.RunSummary, err error) error {
	if sum != nil && !sum.FinishedAt.IsZero() {
		fmt.Fprint(cmd.OutOrStdout(), display.Run(sum, outputMode()))
	}
	return err
}
