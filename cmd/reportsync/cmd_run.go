package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reportsync/internal/display"
	"reportsync/internal/wiring"
)

var runFlags struct {
	from string
	job  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Unpack, sweep and merge in one pass",
	Long: "run is the scheduled entry point on the consumer side: it unpacks every\n" +
		"triggered payload, sweeps expired payloads, merges staging into the archive,\n" +
		"rebuilds the manifest and relays scores.\n\n" +
		"With --from the host also plays the producer and packs that directory first.",
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.from, "from", "", "Pack this directory before running (local mode)")
	f.StringVar(&runFlags.job, "job", "", "Job name for --from (default: <job_kind>_<timestamp>_<host>)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	p, closeFn, err := newPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if runFlags.from == "" {
		sum, err := p.Run(cmd.Context())
		return printRun(cmd, sum, err)
	}
	packed, sum, err := wiring.Run(cmd.Context(), p, p, runFlags.from, runFlags.job)
	if packed != nil {
		fmt.Fprint(cmd.OutOrStdout(), display.Pack(packed))
	}
	return printRun(cmd, sum, err)
}
