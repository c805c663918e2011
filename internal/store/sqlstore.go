package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV2

// SqlStore implements Ledger with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		return s.freshInstall()
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		// schema_version exists but is empty: treat as v1.
		v = schemaVersionV1
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", v); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}

	switch v {
	case currentSchemaVersion:
		return nil
	case schemaVersionV1:
		return s.migrateV1ToV2()
	default:
		return fmt.Errorf("unknown schema version %d", v)
	}
}

func (s *SqlStore) freshInstall() error {
	if _, err := s.db.Exec(schemaV2); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// migrateV1ToV2 runs inside a transaction.
func (s *SqlStore) migrateV1ToV2() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migrationV1ToV2); err != nil {
		return fmt.Errorf("v1→v2 migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

func (s *SqlStore) StartRun(stage string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec("INSERT INTO runs(id, stage, started_at) VALUES(?, ?, ?)", id, stage, formatTime(at))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

func (s *SqlStore) FinishRun(runID string, at time.Time, totals RunTotals) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, merged = ?, rejected = ?, pending = ?, superseded = ?, error = ?
		 WHERE id = ?`,
		formatTime(at), totals.Merged, totals.Rejected, totals.Pending, totals.Superseded,
		errString(totals.Err), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: not found", runID)
	}
	return nil
}

func (s *SqlStore) RecordRejections(runID string, rejections []Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.Prepare("INSERT INTO rejections(run_id, package, path, reason, detail) VALUES(?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare rejection insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rejections {
		if _, err := stmt.Exec(runID, r.Package, r.Path, r.Reason, r.Detail); err != nil {
			return fmt.Errorf("insert rejection %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

func (s *SqlStore) RecordDelivery(runID string, d Delivery) error {
	failed := 0
	if d.Failed {
		failed = 1
	}
	_, err := s.db.Exec("INSERT INTO deliveries(run_id, job, files, failed) VALUES(?, ?, ?, ?)",
		runID, d.Job, d.Files, failed)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (s *SqlStore) ListRuns(limit int) ([]Run, error) {
	q := `SELECT id, stage, started_at, finished_at, merged, rejected, pending, superseded, error
	      FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started string
		var finished, errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.Stage, &started, &finished, &r.Merged, &r.Rejected,
			&r.Pending, &r.Superseded, &errStr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(nullStr(finished))
		r.Error = nullStr(errStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) ListRejections(runID string) ([]Rejection, error) {
	rows, err := s.db.Query(
		"SELECT run_id, package, path, reason, detail FROM rejections WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	defer rows.Close()
	var out []Rejection
	for rows.Next() {
		var r Rejection
		var detail sql.NullString
		if err := rows.Scan(&r.RunID, &r.Package, &r.Path, &r.Reason, &detail); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		r.Detail = nullStr(detail)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) ListDeliveries(runID string) ([]Delivery, error) {
	rows, err := s.db.Query(
		"SELECT run_id, job, files, failed FROM deliveries WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		var d Delivery
		var failed int
		if err := rows.Scan(&d.RunID, &d.Job, &d.Files, &failed); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Failed = failed != 0
		out = append(out, d)
	}
	return out, rows.Err()
}
