package main

import (
	"github.com/spf13/cobra"
)

var mergeFlags struct {
	dryRun bool
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge staged reports into the archive and rebuild the manifest",
	Args:  cobra.NoArgs,
	RunE:  runMerge,
}

func init() {
	f := mergeCmd.Flags()
	f.BoolVar(&mergeFlags.dryRun, "dry-run", false, "Plan the merge and print it without writing anything")
}

func runMerge(cmd *cobra.Command, _ []string) error {
	p, closeFn, err := newPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	p.DryRun = mergeFlags.dryRun
	sum, err := p.Merge(cmd.Context())
	return printRun(cmd, sum, err)
}
