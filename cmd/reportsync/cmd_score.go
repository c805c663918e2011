package main

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"reportsync/internal/config"
	"reportsync/internal/display"
	"reportsync/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score [file...]",
	Short: "Score report files, or re-score the whole archive into the scores sidecar",
	Long: "With file arguments, score prints the scorer's verdict for each file and\n" +
		"writes nothing. Without arguments it re-scores every archived report and\n" +
		"publishes the rewritten scores sidecar.",
	RunE: runScore,
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		scorer := newScorer(appCfg)
		if scorer == nil {
			return config.Errorf("scoring.command is not configured")
		}
		records := make(map[string]*scoring.Record, len(args))
		var errs *multierror.Error
		for _, path := range args {
			rec, err := scorer.Score(ctx, path)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			records[path] = rec
		}
		if len(records) > 0 {
			fmt.Fprint(out, display.Scores(records, outputMode()))
		}
		return errs.ErrorOrNil()
	}

	p, closeFn, err := newPipeline(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	res, err := p.Rescore(ctx)
	if res != nil {
		fmt.Fprintf(out, "scores: %d updated, %d pruned\n", len(res.Scored), len(res.Pruned))
	}
	return err
}
