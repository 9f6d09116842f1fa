// Package checkpoint records per-stage run status so an interrupted
// pipeline run can resume without redoing completed stages. The history
// is kept in a tiny sqlite table rather than a flat file, since it needs
// concurrent-safe append and point lookups by (run_id, stage).
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Status is a stage's lifecycle state.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Checkpoint is one recorded attempt at a pipeline stage.
type Checkpoint struct {
	RunID        string
	Stage        string
	Status       Status
	Timestamp    time.Time
	AttemptCount int
}

// Store persists checkpoints to a sqlite database file.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if necessary) the checkpoint database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id        TEXT NOT NULL,
	stage         TEXT NOT NULL,
	status        TEXT NOT NULL,
	timestamp     TIMESTAMP NOT NULL,
	attempt_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, stage)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "checkpoint").Logger()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a checkpoint row. A new (run_id, stage) row starts with
// attempt_count 1; every later Record for that pair increments it,
// whatever the previous or new status.
func (s *Store) Record(ctx context.Context, runID, stage string, status Status, ts time.Time) error {
	const stmt = `
INSERT INTO checkpoints (run_id, stage, status, timestamp, attempt_count)
VALUES (?, ?, ?, ?, 1)
ON CONFLICT (run_id, stage) DO UPDATE SET
	status = excluded.status,
	timestamp = excluded.timestamp,
	attempt_count = checkpoints.attempt_count + 1;`
	_, err := s.db.ExecContext(ctx, stmt, runID, stage, string(status), ts)
	if err != nil {
		return fmt.Errorf("record checkpoint %s/%s: %w", runID, stage, err)
	}
	s.log.Debug().Str("run_id", runID).Str("stage", stage).Str("status", string(status)).Msg("checkpoint recorded")
	return nil
}

// Get returns the most recent checkpoint for a (run_id, stage) pair, or
// ok=false if none exists.
func (s *Store) Get(ctx context.Context, runID, stage string) (Checkpoint, bool, error) {
	const q = `SELECT status, timestamp, attempt_count FROM checkpoints WHERE run_id = ? AND stage = ?`
	row := s.db.QueryRowContext(ctx, q, runID, stage)
	var cp Checkpoint
	var status string
	if err := row.Scan(&status, &cp.Timestamp, &cp.AttemptCount); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	cp.RunID = runID
	cp.Stage = stage
	cp.Status = Status(status)
	return cp, true, nil
}

// LastIncomplete returns the stages recorded for runID whose last status
// was neither completed nor failed, i.e. the pipeline was interrupted
// mid-stage and resume should re-attempt them.
func (s *Store) LastIncomplete(ctx context.Context, runID string) ([]Checkpoint, error) {
	const q = `SELECT stage, status, timestamp, attempt_count FROM checkpoints WHERE run_id = ? AND status NOT IN (?, ?)`
	rows, err := s.db.QueryContext(ctx, q, runID, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var status string
		if err := rows.Scan(&cp.Stage, &status, &cp.Timestamp, &cp.AttemptCount); err != nil {
			return nil, err
		}
		cp.RunID = runID
		cp.Status = Status(status)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// ResumeWait returns how long to back off before retrying a stage,
// min(30 * attempt, 180) seconds, growing with each failed attempt but
// bounded so the runner never waits more than three minutes.
func ResumeWait(attempt int) time.Duration {
	secs := 30 * attempt
	if secs > 180 {
		secs = 180
	}
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}
