package main

import (
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete payloads older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	p, closeFn, err := newPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	sum, err := p.Sweep(cmd.Context())
	return printRun(cmd, sum, err)
}
