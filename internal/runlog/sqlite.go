package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// SQLiteRepository implements Repository over the scene_runs and
// run_transitions tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a run history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun opens a new run row.
func (r *SQLiteRepository) CreateRun(ctx context.Context, runID, sceneID string, startedAt time.Time) error {
	if runID == "" || sceneID == "" {
		return fmt.Errorf("run id and scene id are required")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO scene_runs (run_id, scene_id, started_at) VALUES (?, ?, ?)",
		runID,
		sceneID,
		startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun closes a run with its reason and final state.
func (r *SQLiteRepository) FinishRun(ctx context.Context, runID, endReason, finalState string, endedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE scene_runs SET ended_at = ?, end_reason = ?, final_state = ? WHERE run_id = ?",
		endedAt.UTC().Format(time.RFC3339Nano),
		endReason,
		finalState,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	return nil
}

// RecordTransition appends one transition and bumps the run's count.
func (r *SQLiteRepository) RecordTransition(ctx context.Context, tr Transition) error {
	if tr.RunID == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recording transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_transitions
		   (run_id, seq, from_state, to_state, trigger_kind, trigger_detail, occurred_at, state_elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.RunID,
		tr.Seq,
		tr.FromState,
		tr.ToState,
		tr.TriggerKind,
		tr.TriggerDetail,
		tr.OccurredAt.UTC().Format(time.RFC3339Nano),
		tr.StateElapsedMS,
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE scene_runs SET transition_count = transition_count + 1 WHERE run_id = ?",
		tr.RunID,
	)
	if err != nil {
		return fmt.Errorf("updating transition count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recording transition: %w", err)
	}
	return nil
}

const runColumns = "run_id, scene_id, started_at, ended_at, end_reason, final_state, transition_count"

// GetRun returns one run by id.
func (r *SQLiteRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM scene_runs WHERE run_id = ?", runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest-first, optionally filtered by scene.
// Rows are created at run start, so insert order is start order.
func (r *SQLiteRepository) ListRuns(ctx context.Context, sceneID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	query := "SELECT " + runColumns + " FROM scene_runs"
	args := []any{}
	if sceneID != "" {
		query += " WHERE scene_id = ?"
		args = append(args, sceneID)
	}
	query += " ORDER BY rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ListTransitions returns a run's transitions in firing order.
func (r *SQLiteRepository) ListTransitions(ctx context.Context, runID string) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, seq, from_state, to_state, trigger_kind, trigger_detail, occurred_at, state_elapsed_ms
		 FROM run_transitions
		 WHERE run_id = ?
		 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var (
			tr         Transition
			occurredAt string
		)
		if err := rows.Scan(&tr.RunID, &tr.Seq, &tr.FromState, &tr.ToState,
			&tr.TriggerKind, &tr.TriggerDetail, &occurredAt, &tr.StateElapsedMS); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, occurredAt); err == nil {
			tr.OccurredAt = ts
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return transitions, nil
}

// Stats summarizes the history tables.
func (r *SQLiteRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM scene_runs),
		   (SELECT COUNT(*) FROM scene_runs WHERE ended_at IS NULL),
		   (SELECT COUNT(*) FROM run_transitions)`,
	).Scan(&s.TotalRuns, &s.OpenRuns, &s.TotalTransitions)
	if err != nil {
		return Stats{}, fmt.Errorf("querying run stats: %w", err)
	}
	return s, nil
}

// scanRun scans one run row from either a Row or Rows receiver.
func scanRun(row interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run       Run
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&run.RunID, &run.SceneID, &startedAt, &endedAt,
		&run.EndReason, &run.FinalState, &run.TransitionCount); err != nil {
		return nil, err
	}

	if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = ts
	}
	if endedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
			run.EndedAt = &ts
		}
	}
	return &run, nil
}
