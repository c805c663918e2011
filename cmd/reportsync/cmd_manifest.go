package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"reportsync/internal/display"
	"reportsync/internal/manifest"
)

var manifestFlags struct {
	show bool
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Rebuild the archive manifest from the archive tree and publish it",
	Args:  cobra.NoArgs,
	RunE:  runManifest,
}

func init() {
	f := manifestCmd.Flags()
	f.BoolVar(&manifestFlags.show, "show", false, "Print the published manifest without rebuilding it")
}

func runManifest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var m *manifest.Manifest
	if manifestFlags.show {
		st, err := openStore(ctx, appCfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := st.Sync(ctx); err != nil {
			return fmt.Errorf("sync store: %w", err)
		}
		m, err = manifest.Read(filepath.Join(st.Root(), filepath.FromSlash(appCfg.Layout.ManifestPath)))
		if err != nil {
			return err
		}
	} else {
		p, closeFn, err := newPipeline(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		if m, err = p.RebuildManifest(ctx); err != nil {
			return err
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), display.Manifest(m, time.Now(), outputMode()))
	return nil
}
