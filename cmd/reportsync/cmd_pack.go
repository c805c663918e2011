package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reportsync/internal/display"
)

var packFlags struct {
	job string
}

var packCmd = &cobra.Command{
	Use:   "pack <source-dir>",
	Short: "Pack a directory of reports into one payload and publish it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPack,
}

func init() {
	f := packCmd.Flags()
	f.StringVar(&packFlags.job, "job", "", "Job name (default: <job_kind>_<timestamp>_<host>)")
}

func runPack(cmd *cobra.Command, args []string) error {
	p, closeFn, err := newPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := p.Pack(cmd.Context(), args[0], packFlags.job)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), display.Pack(res))
	return nil
}
