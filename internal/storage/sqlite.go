package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vaultsearch/internal/models"
)

var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Reconcile workers record failures concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL,
		stale INTEGER NOT NULL,
		indexed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		pruned INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_finished_at ON sync_runs(finished_at);

	CREATE TABLE IF NOT EXISTS sync_failures (
		path TEXT PRIMARY KEY,
		error TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordRun inserts a completed run.
func (s *SQLiteLedger) RecordRun(ctx context.Context, run *models.RunResult) error {
	if run.ID == "" {
		return errors.New("record run: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, kind, model, total, stale, indexed, skipped, failed, pruned, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Model, run.Total, run.Stale, run.Indexed, run.Skipped, run.Failed, run.Pruned,
		run.Started.UTC(), run.Finished.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const runColumns = `id, kind, model, total, stale, indexed, skipped, failed, pruned, started_at, finished_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*models.RunResult, error) {
	var run models.RunResult
	var kind string
	if err := row.Scan(&run.ID, &kind, &run.Model, &run.Total, &run.Stale, &run.Indexed, &run.Skipped,
		&run.Failed, &run.Pruned, &run.Started, &run.Finished); err != nil {
		return nil, err
	}
	run.Kind = models.RunKind(kind)
	return &run, nil
}

// LastRun returns the most recently finished run, or ErrNoRuns.
func (s *SQLiteLedger) LastRun(ctx context.Context) (*models.RunResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY finished_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]*models.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordFailure upserts a failure for path, counting repeated attempts.
func (s *SQLiteLedger) RecordFailure(ctx context.Context, path, message string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_failures (path, error, attempts, first_seen, last_seen)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET error = excluded.error, attempts = attempts + 1, last_seen = excluded.last_seen`,
		path, message, now, now,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ClearFailure removes the failure recorded for path, if any.
func (s *SQLiteLedger) ClearFailure(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_failures WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear failure: %w", err)
	}
	return nil
}

// Failures returns every recorded failure ordered by path.
func (s *SQLiteLedger) Failures(ctx context.Context) ([]*models.SyncFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, error, attempts, first_seen, last_seen FROM sync_failures ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncFailure
	for rows.Next() {
		var f models.SyncFailure
		if err := rows.Scan(&f.Path, &f.Error, &f.Attempts, &f.FirstSeen, &f.LastSeen); err != nil {
			return nil, fmt.Errorf("list failures: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
