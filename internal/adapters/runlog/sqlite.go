// Package runlog persists run history in a local SQLite database.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/jobrunner/cogforge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	event      TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at   TEXT NOT NULL,
	total      INTEGER NOT NULL,
	succeeded  INTEGER NOT NULL,
	failed     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	source      TEXT NOT NULL,
	category    TEXT NOT NULL,
	dest_key    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error_kind  TEXT NOT NULL,
	error       TEXT NOT NULL,
	nodata      REAL NOT NULL,
	duration_ms INTEGER NOT NULL,
	timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
`

// Store records finished runs and their per-item results.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the run history database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing run log schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists a finalized run and its results in one transaction.
func (s *Store) RecordRun(ctx context.Context, run *domain.BatchRun) error {
	summary := run.Summary()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, event, started_at, ended_at, total, succeeded, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Event,
		run.StartedAt.Format(time.RFC3339Nano),
		run.EndedAt.Format(time.RFC3339Nano),
		summary.Total, summary.Succeeded, summary.Failed,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, source, category, dest_key, outcome, error_kind, error, nodata, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range run.Results() {
		_, err := stmt.ExecContext(ctx,
			run.ID, r.Source, string(r.Category), r.Key, string(r.Outcome),
			r.ErrorKind, r.Error, r.Nodata, r.Duration.Milliseconds(),
			r.Timestamp.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("recording result for %s: %w", r.Source, err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns summaries of the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, started_at, ended_at, total, succeeded, failed
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []domain.RunSummary
	for rows.Next() {
		var s1 domain.RunSummary
		var started, ended string
		if err := rows.Scan(&s1.RunID, &s1.Event, &started, &ended, &s1.Total, &s1.Succeeded, &s1.Failed); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		s1.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		s1.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		s1.ByCategory = make(map[domain.Category]domain.CategoryCounts)
		summaries = append(summaries, s1)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		if err := s.fillCategories(ctx, &summaries[i]); err != nil {
			return nil, err
		}
	}

	return summaries, nil
}

// fillCategories loads per-category outcome counts for one run.
func (s *Store) fillCategories(ctx context.Context, summary *domain.RunSummary) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, outcome, COUNT(*) FROM results WHERE run_id = ? GROUP BY category, outcome`,
		summary.RunID)
	if err != nil {
		return fmt.Errorf("loading categories for %s: %w", summary.RunID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var category, outcome string
		var n int
		if err := rows.Scan(&category, &outcome, &n); err != nil {
			return err
		}
		c := summary.ByCategory[domain.Category(category)]
		if domain.Outcome(outcome) == domain.OutcomeSucceeded {
			c.Succeeded += n
		} else {
			c.Failed += n
		}
		summary.ByCategory[domain.Category(category)] = c
	}
	return rows.Err()
}

// RunResults returns the per-item results of one run.
func (s *Store) RunResults(ctx context.Context, runID string) ([]domain.UploadResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, category, dest_key, outcome, error_kind, error, nodata, duration_ms, timestamp
		 FROM results WHERE run_id = ? ORDER BY timestamp`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading results for %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var results []domain.UploadResult
	for rows.Next() {
		var r domain.UploadResult
		var category, outcome, ts string
		var durationMs int64
		if err := rows.Scan(&r.Source, &category, &r.Key, &outcome, &r.ErrorKind, &r.Error, &r.Nodata, &durationMs, &ts); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Category = domain.Category(category)
		r.Outcome = domain.Outcome(outcome)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		results = append(results, r)
	}
	return results, rows.Err()
}
