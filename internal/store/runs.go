package store

import (
	"context"
	"fmt"
	"time"
)

// RunRecord is one persisted ingest run. Report holds the JSON-encoded run
// report; the store does not interpret it.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Failed     bool
	Report     []byte
}

// SaveRun inserts or replaces a run record.
func (db *DB) SaveRun(ctx context.Context, r RunRecord) error {
	failed := 0
	if r.Failed {
		failed = 1
	}
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO ingest_runs (run_id, started_at, finished_at, failed, report)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		finished_at = excluded.finished_at,
		failed = excluded.failed,
		report = excluded.report
	`,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		failed,
		string(r.Report),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first (0 = no limit).
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, started_at, finished_at, failed, report FROM ingest_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished, report string
		var failed int
		if err := rows.Scan(&r.ID, &started, &finished, &failed, &report); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			r.FinishedAt = t
		}
		r.Failed = failed != 0
		r.Report = []byte(report)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}
