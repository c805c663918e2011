package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"reportsync/internal/config"
	"reportsync/internal/logging"
	"reportsync/internal/mailbox"
	"reportsync/internal/pipeline"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes for the fatal error classes. Anything else exits 1.
const (
	exitConfig    = 2
	exitExhausted = 3
	exitManifest  = 4
)

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	root       string
	backend    string
	output     string
}

// appCfg is loaded once per invocation by the root pre-run hook.
var appCfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reportsync",
	Short: "Move report batches through a shared store and merge them into a weekly archive",
	Long: "reportsync packs report batches into payloads on a producer host, unpacks them\n" +
		"into a staging area on the consumer side, and merges staged reports into an\n" +
		"org/project/week archive with a manifest for the dashboard.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&rootFlags.root, "root", "", "Store root directory (overrides store.root)")
	pf.StringVar(&rootFlags.backend, "backend", "", "Store backend: git, s3, dir (overrides store.backend)")
	pf.StringVarP(&rootFlags.output, "output", "o", "ascii", "Table format: ascii or markdown")

	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(unpackCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	if rootFlags.root != "" {
		cfg.Store.Root = rootFlags.root
	}
	if rootFlags.backend != "" {
		cfg.Store.Backend = rootFlags.backend
	}
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		cfg.Logging.Format = rootFlags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return config.Errorf("%v", err)
	}
	logging.Init(level, cfg.Logging.Format, cmd.ErrOrStderr())
	appCfg = cfg
	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var cfgErr *config.Error
	var exhausted *mailbox.ExhaustedError
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &exhausted):
		return exitExhausted
	case errors.Is(err, pipeline.ErrManifest):
		return exitManifest
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
