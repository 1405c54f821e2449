package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateRun indicates the record id was already stored.
var ErrDuplicateRun = errors.New("state: duplicate run record")

// RunRecord is one ledger row describing a finished action run.
type RunRecord struct {
	ID             string    `json:"id"`
	Repository     string    `json:"repository"`
	RunID          string    `json:"run_id"`
	Ref            string    `json:"ref"`
	CommitSHA      string    `json:"commit_sha"`
	EventName      string    `json:"event_name"`
	Outcome        string    `json:"outcome"`
	ExitCode       int       `json:"exit_code"`
	Cause          string    `json:"cause,omitempty"`
	UsageDelivered bool      `json:"usage_delivered"`
	LogURI         string    `json:"log_uri,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordRun inserts a run record, assigning an id when none is set.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) (RunRecord, error) {
	if rec.Repository == "" || rec.RunID == "" {
		return RunRecord{}, errors.New("repository and run_id are required")
	}
	if rec.Ref == "" || rec.Outcome == "" {
		return RunRecord{}, errors.New("ref and outcome are required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, err := uuid.Parse(rec.ID); err != nil {
		return RunRecord{}, fmt.Errorf("run record id: %w", err)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
INSERT INTO action_runs (id, repository, run_id, ref, commit_sha, event_name, outcome, exit_code, cause, usage_delivered, log_uri, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING created_at
`, rec.ID, rec.Repository, rec.RunID, rec.Ref, rec.CommitSHA, rec.EventName, rec.Outcome, rec.ExitCode, rec.Cause, rec.UsageDelivered, rec.LogURI, rec.StartedAt, rec.FinishedAt).Scan(&rec.CreatedAt)
		if err != nil && isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, rec.ID)
		}
		return err
	})
	if err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}

// GetRun loads a run record by id.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, repository, run_id, ref, commit_sha, event_name, outcome, exit_code, cause, usage_delivered, log_uri, started_at, finished_at, created_at
FROM action_runs
WHERE id = $1
`, id)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return RunRecord{}, err
	}
	return rec, nil
}

// ListRunsByRef returns the most recent runs for a repository and ref.
func (s *Store) ListRunsByRef(ctx context.Context, repository, ref string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, repository, run_id, ref, commit_sha, event_name, outcome, exit_code, cause, usage_delivered, log_uri, started_at, finished_at, created_at
FROM action_runs
WHERE repository = $1 AND ref = $2
ORDER BY started_at DESC
LIMIT $3
`, repository, ref, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	err := row.Scan(
		&rec.ID,
		&rec.Repository,
		&rec.RunID,
		&rec.Ref,
		&rec.CommitSHA,
		&rec.EventName,
		&rec.Outcome,
		&rec.ExitCode,
		&rec.Cause,
		&rec.UsageDelivered,
		&rec.LogURI,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.CreatedAt,
	)
	return rec, err
}
