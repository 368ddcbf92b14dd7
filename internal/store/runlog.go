package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// RunLog records pipeline runs and per-bin outcomes in the working
// directory, so a run leaves an audit trail beyond console output.
type RunLog struct {
	db *sql.DB
}

// Bin statuses stored in the run log.
const (
	BinStatusOK     = "ok"
	BinStatusFailed = "failed"
)

// Run statuses stored in the run log.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// OpenRunLog opens (or creates) the run log database.
func OpenRunLog(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA journal_mode = WAL")

	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			config TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS run_bins (
			run_id TEXT NOT NULL REFERENCES runs(id),
			bin TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			probes_normal INTEGER DEFAULT 0,
			probes_musicc INTEGER DEFAULT 0,
			finished_at DATETIME NOT NULL
		);`,
	}
	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("runlog: create schema: %w", err)
		}
	}
	return &RunLog{db: db}, nil
}

// Close closes the underlying database.
func (l *RunLog) Close() error { return l.db.Close() }

// StartRun records a new run with its effective config.
func (l *RunLog) StartRun(id, configTOML string) error {
	_, err := l.db.Exec(
		"INSERT INTO runs (id, started_at, status, config) VALUES (?, ?, ?, ?);",
		id, time.Now().UTC(), RunStatusRunning, configTOML)
	if err != nil {
		return fmt.Errorf("runlog: start run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's final status.
func (l *RunLog) FinishRun(id, status string) error {
	_, err := l.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ? WHERE id = ?;",
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("runlog: finish run: %w", err)
	}
	return nil
}

// RecordBin stores the outcome of one genome bin within a run.
func (l *RunLog) RecordBin(runID, bin, status, message string, probesNormal, probesMusicc int) error {
	_, err := l.db.Exec(
		`INSERT INTO run_bins (run_id, bin, status, message, probes_normal, probes_musicc, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		runID, bin, status, message, probesNormal, probesMusicc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("runlog: record bin %s: %w", bin, err)
	}
	return nil
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

// ListRuns returns runs newest first.
func (l *RunLog) ListRuns() ([]RunSummary, error) {
	rows, err := l.db.Query(
		"SELECT id, started_at, finished_at, status FROM runs ORDER BY started_at DESC;")
	if err != nil {
		return nil, fmt.Errorf("runlog: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
