// Package config holds the single typed configuration record that is built
// once at process start and threaded through every pipeline component.
package config

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Store backends.
const (
	BackendGit = "git"
	BackendS3  = "s3"
	BackendDir = "dir"
)

// Config is the full reportsync configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" envPrefix:"STORE_"`
	Layout   LayoutConfig   `yaml:"layout" envPrefix:"LAYOUT_"`
	Packager PackagerConfig `yaml:"packager" envPrefix:"PACKAGER_"`
	Unpacker UnpackerConfig `yaml:"unpacker" envPrefix:"UNPACKER_"`
	Merge    MergeConfig    `yaml:"merge" envPrefix:"MERGE_"`
	Ledger   LedgerConfig   `yaml:"ledger" envPrefix:"LEDGER_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Scoring  ScoringConfig  `yaml:"scoring" envPrefix:"SCORING_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Backend  string    `yaml:"backend" env:"BACKEND"`
	Root     string    `yaml:"root" env:"ROOT"`
	Attempts int       `yaml:"attempts" env:"ATTEMPTS"`
	Git      GitConfig `yaml:"git" envPrefix:"GIT_"`
	S3       S3Config  `yaml:"s3" envPrefix:"S3_"`
}

// GitConfig configures the git-backed store. An empty Remote keeps commits local.
type GitConfig struct {
	Remote      string `yaml:"remote" env:"REMOTE"`
	Branch      string `yaml:"branch" env:"BRANCH"`
	AuthorName  string `yaml:"author_name" env:"AUTHOR_NAME"`
	AuthorEmail string `yaml:"author_email" env:"AUTHOR_EMAIL"`
}

// S3Config configures the object-storage backed store.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Region    string `yaml:"region" env:"REGION"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
}

// LayoutConfig places every artifact relative to the store root.
type LayoutConfig struct {
	PayloadDir   string `yaml:"payload_dir" env:"PAYLOAD_DIR"`
	TriggerDir   string `yaml:"trigger_dir" env:"TRIGGER_DIR"`
	StagingDir   string `yaml:"staging_dir" env:"STAGING_DIR"`
	ArchiveDir   string `yaml:"archive_dir" env:"ARCHIVE_DIR"`
	ManifestPath string `yaml:"manifest_path" env:"MANIFEST_PATH"`
	ScoresPath   string `yaml:"scores_path" env:"SCORES_PATH"`
}

// PackagerConfig configures the producer side.
type PackagerConfig struct {
	JobKind    string   `yaml:"job_kind" env:"JOB_KIND"`
	Extensions []string `yaml:"extensions" env:"EXTENSIONS"`
	Workers    int      `yaml:"workers" env:"WORKERS"`
}

// UnpackerConfig configures trigger processing and payload retention.
type UnpackerConfig struct {
	Retention    time.Duration `yaml:"retention" env:"RETENTION"`
	KeepPayloads bool          `yaml:"keep_payloads" env:"KEEP_PAYLOADS"`
}

// MergeConfig configures classification and reorganization.
type MergeConfig struct {
	JobPrefix           string   `yaml:"job_prefix" env:"JOB_PREFIX"`
	ReportDir           string   `yaml:"report_dir" env:"REPORT_DIR"`
	ReportExtensions    []string `yaml:"report_extensions" env:"REPORT_EXTENSIONS"`
	DefaultOrganization string   `yaml:"default_organization" env:"DEFAULT_ORGANIZATION"`
}

// LedgerConfig locates the SQLite run ledger. A relative path resolves
// against the store root; ":memory:" keeps the ledger in process.
type LedgerConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// MetricsConfig names the node_exporter textfile written after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
}

// ScoringConfig names the external scorer. An empty command disables scoring.
type ScoringConfig struct {
	Command []string `yaml:"command" env:"COMMAND" envSeparator:" "`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	setDefault(&c.Store.Backend, BackendGit)
	setDefault(&c.Store.Root, ".")
	if c.Store.Attempts == 0 {
		c.Store.Attempts = 3
	}
	setDefault(&c.Store.Git.Remote, "origin")
	setDefault(&c.Store.Git.Branch, "main")
	setDefault(&c.Store.Git.AuthorName, "reportsync")
	setDefault(&c.Store.Git.AuthorEmail, "reportsync@localhost")

	setDefault(&c.Layout.PayloadDir, "outbox/payloads")
	setDefault(&c.Layout.TriggerDir, "outbox/triggers")
	setDefault(&c.Layout.StagingDir, "staging")
	setDefault(&c.Layout.ArchiveDir, "archive")
	setDefault(&c.Layout.ManifestPath, "manifest.json")
	setDefault(&c.Layout.ScoresPath, "scores.json")

	setDefault(&c.Packager.JobKind, "report_batch")
	if c.Packager.Workers == 0 {
		c.Packager.Workers = 4
	}

	if c.Unpacker.Retention == 0 {
		c.Unpacker.Retention = 10 * 24 * time.Hour
	}

	setDefault(&c.Merge.ReportDir, "task_output")
	if len(c.Merge.ReportExtensions) == 0 {
		c.Merge.ReportExtensions = []string{".json", ".sexyduck"}
	}

	setDefault(&c.Ledger.Path, ".reportsync/ledger.db")
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate reports the first configuration error, if any.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendGit, BackendDir:
	case BackendS3:
		if c.Store.S3.Endpoint == "" || c.Store.S3.Bucket == "" {
			return Errorf("store.s3 requires endpoint and bucket")
		}
	default:
		return Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Root == "" {
		return Errorf("store.root is required")
	}
	if c.Store.Attempts < 1 {
		return Errorf("store.attempts must be at least 1, got %d", c.Store.Attempts)
	}
	if c.Unpacker.Retention < 0 {
		return Errorf("unpacker.retention must not be negative")
	}
	if c.Packager.Workers < 1 {
		return Errorf("packager.workers must be at least 1, got %d", c.Packager.Workers)
	}

	dirs := map[string]string{
		"layout.payload_dir": c.Layout.PayloadDir,
		"layout.trigger_dir": c.Layout.TriggerDir,
		"layout.staging_dir": c.Layout.StagingDir,
		"layout.archive_dir": c.Layout.ArchiveDir,
	}
	for name, dir := range dirs {
		if err := checkRelative(name, dir); err != nil {
			return err
		}
	}
	for _, name := range []string{"layout.manifest_path", "layout.scores_path"} {
		p := c.Layout.ManifestPath
		if name == "layout.scores_path" {
			p = c.Layout.ScoresPath
		}
		if err := checkRelative(name, p); err != nil {
			return err
		}
		for dirName, dir := range dirs {
			if within(p, dir) {
				return Errorf("%s (%s) must not live inside %s (%s)", name, p, dirName, dir)
			}
		}
	}
	for a, da := range dirs {
		for b, db := range dirs {
			if a != b && within(da, db) {
				return Errorf("%s (%s) overlaps %s (%s)", a, da, b, db)
			}
		}
	}
	return nil
}

func checkRelative(name, p string) error {
	if p == "" {
		return Errorf("%s is required", name)
	}
	clean := path.Clean(p)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return Errorf("%s must be a path inside the store root, got %q", name, p)
	}
	return nil
}

// within reports whether p equals dir or lies below it.
func within(p, dir string) bool {
	p, dir = path.Clean(p), path.Clean(dir)
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// Error is a configuration error: fatal, surfaced before any write.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "configuration: " + e.Msg }

// Errorf builds a configuration error.
func Errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
