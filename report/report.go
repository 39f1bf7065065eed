// Package report keeps a local ledger of optimization runs in SQLite:
// one row per run, one row per stage, queryable for the last runs'
// durations and warning counts. Writes are non-blocking for the
// pipeline: a failing ledger never fails a run.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitemin/sitemin/dbopen"
	"github.com/sitemin/sitemin/idgen"
)

// DefaultFileName is the ledger database in the working directory.
const DefaultFileName = "sitemin.db"

// Schema is the complete DDL for the run ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    status TEXT NOT NULL DEFAULT 'running',
    base_path TEXT NOT NULL,
    dest_path TEXT NOT NULL,
    warnings INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS run_stages (
    stage_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(run_id),
    stage TEXT NOT NULL,
    files INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_stages_run ON run_stages(run_id);
`

// Recorder writes run and stage rows.
type Recorder struct {
	db    *sql.DB
	runID string
	start time.Time
}

// Open opens (or creates) the ledger at path and starts a run row.
func Open(ctx context.Context, path, basePath, destPath string) (*Recorder, error) {
	if path == "" {
		path = DefaultFileName
	}
	db, err := dbopen.Open(path, dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("report: open ledger: %w", err)
	}

	r := &Recorder{db: db, runID: newRunID(), start: time.Now()}
	_, err = dbopen.Exec(ctx, db, `
		INSERT INTO runs (run_id, started_at, base_path, dest_path)
		VALUES (?,?,?,?)`,
		r.runID, r.start.Unix(), basePath, destPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("report: start run: %w", err)
	}
	return r, nil
}

// RunID returns the current run's identifier.
func (r *Recorder) RunID() string { return r.runID }

// Stage records one completed stage. Errors are logged, not returned.
func (r *Recorder) Stage(ctx context.Context, stage string, files int, took time.Duration) {
	_, err := dbopen.Exec(ctx, r.db, `
		INSERT INTO run_stages (stage_id, run_id, stage, files, duration_ms)
		VALUES (?,?,?,?,?)`,
		newStageID(), r.runID, stage, files, took.Milliseconds())
	if err != nil {
		slog.Warn("report: stage record failed", "stage", stage, "error", err)
	}
}

// Finish closes the run row and the database. runErr nil marks the run
// ok; otherwise failed with the error text stored.
func (r *Recorder) Finish(ctx context.Context, warnings int, runErr error) {
	status := "ok"
	var errText sql.NullString
	if runErr != nil {
		status = "failed"
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := dbopen.Exec(ctx, r.db, `
		UPDATE runs SET finished_at = ?, status = ?, warnings = ?, error = ?
		WHERE run_id = ?`,
		time.Now().Unix(), status, warnings, errText, r.runID)
	if err != nil {
		slog.Warn("report: finish record failed", "error", err)
	}
	if err := r.db.Close(); err != nil {
		slog.Warn("report: ledger close failed", "error", err)
	}
}

// RunSummary is one past run for `sitemin report`-style listings.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	BasePath   string
	DestPath   string
	Warnings   int
	Error      string
}

// LastRuns lists the most recent runs, newest first.
func LastRuns(ctx context.Context, path string, limit int) ([]RunSummary, error) {
	if path == "" {
		path = DefaultFileName
	}
	if limit <= 0 {
		limit = 10
	}
	db, err := dbopen.Open(path, dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("report: open ledger: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, started_at, COALESCE(finished_at, 0), status,
		       base_path, dest_path, warnings, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished int64
		if err := rows.Scan(&s.RunID, &started, &finished, &s.Status,
			&s.BasePath, &s.DestPath, &s.Warnings, &s.Error); err != nil {
			return nil, fmt.Errorf("report: scan run: %w", err)
		}
		s.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			s.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UUIDv7 IDs keep rows time-sortable within one second's resolution of
// started_at.
var (
	newRunID   = idgen.Prefixed("run_", idgen.Default)
	newStageID = idgen.Prefixed("stg_", idgen.Default)
)
