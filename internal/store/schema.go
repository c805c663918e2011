package store

// schemaVersionV1 has runs and rejections only.
const schemaVersionV1 = 1

// schemaVersionV2 adds deliveries and the superseded count.
const schemaVersionV2 = 2

// schemaV1 is kept for migration tests.
var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	merged INTEGER NOT NULL DEFAULT 0,
	rejected INTEGER NOT NULL DEFAULT 0,
	pending INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
CREATE TABLE IF NOT EXISTS rejections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	package TEXT NOT NULL,
	path TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT
);
`

var schemaV2 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	merged INTEGER NOT NULL DEFAULT 0,
	rejected INTEGER NOT NULL DEFAULT 0,
	pending INTEGER NOT NULL DEFAULT 0,
	superseded INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS rejections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	package TEXT NOT NULL,
	path TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(run_id);
CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	job TEXT NOT NULL,
	files INTEGER NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run_id);
`

var migrationV1ToV2 = `
ALTER TABLE runs ADD COLUMN superseded INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(run_id);
CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	job TEXT NOT NULL,
	files INTEGER NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run_id);
UPDATE schema_version SET version = 2;
`
