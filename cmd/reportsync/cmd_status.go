package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reportsync/internal/display"
	"reportsync/internal/store"
)

var statusFlags struct {
	limit int
	run   string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs from the ledger, or the details of one run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.IntVar(&statusFlags.limit, "limit", 20, "Number of recent runs to list (0 = all)")
	f.StringVar(&statusFlags.run, "run", "", "Run ID or unique prefix to show rejections and deliveries for")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ledger, err := openLedger(appCfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	out := cmd.OutOrStdout()
	mode := outputMode()
	if statusFlags.run == "" {
		runs, err := ledger.ListRuns(statusFlags.limit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		fmt.Fprint(out, display.Runs(runs, time.Now(), mode))
		return nil
	}

	run, err := findRun(ledger, statusFlags.run)
	if err != nil {
		return err
	}
	fmt.Fprint(out, display.Runs([]store.Run{run}, time.Now(), mode))

	deliveries, err := ledger.ListDeliveries(run.ID)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	if len(deliveries) > 0 {
		fmt.Fprint(out, display.Deliveries(deliveries, mode))
	}
	rej, err := ledger.ListRejections(run.ID)
	if err != nil {
		return fmt.Errorf("list rejections: %w", err)
	}
	if len(rej) > 0 {
		fmt.Fprint(out, display.Rejections(rej, mode))
	}
	return nil
}

// findRun resolves a full run ID or an unambiguous prefix of one.
func findRun(ledger store.Ledger, id string) (store.Run, error) {
	runs, err := ledger.ListRuns(0)
	if err != nil {
		return store.Run{}, fmt.Errorf("list runs: %w", err)
	}
	var match []store.Run
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
		if strings.HasPrefix(r.ID, id) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 0:
		return store.Run{}, fmt.Errorf("no run matches %q", id)
	case 1:
		return match[0], nil
	}
	return store.Run{}, fmt.Errorf("run prefix %q is ambiguous (%d matches)", id, len(match))
}
