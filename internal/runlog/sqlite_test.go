package runlog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	schema := `
	CREATE TABLE scene_runs (
	    run_id           TEXT PRIMARY KEY,
	    scene_id         TEXT NOT NULL,
	    started_at       TEXT NOT NULL,
	    ended_at         TEXT,
	    end_reason       TEXT NOT NULL DEFAULT '',
	    final_state      TEXT NOT NULL DEFAULT '',
	    transition_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE run_transitions (
	    id               INTEGER PRIMARY KEY AUTOINCREMENT,
	    run_id           TEXT NOT NULL REFERENCES scene_runs (run_id) ON DELETE CASCADE,
	    seq              INTEGER NOT NULL,
	    from_state       TEXT NOT NULL,
	    to_state         TEXT NOT NULL,
	    trigger_kind     TEXT NOT NULL,
	    trigger_detail   TEXT NOT NULL DEFAULT '',
	    occurred_at      TEXT NOT NULL,
	    state_elapsed_ms INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return NewSQLiteRepository(db)
}

func TestRepository_CreateAndGetRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 15, 14, 30, 0, 500_000_000, time.UTC)
	if err := repo.CreateRun(ctx, "run-1", "seance", started); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.SceneID != "seance" {
		t.Errorf("SceneID = %q, want seance", run.SceneID)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}
	if run.EndedAt != nil {
		t.Errorf("EndedAt = %v on open run, want nil", run.EndedAt)
	}
	if run.TransitionCount != 0 {
		t.Errorf("TransitionCount = %d, want 0", run.TransitionCount)
	}
}

func TestRepository_GetRunNotFound(t *testing.T) {
	repo := setupTestDB(t)

	_, err := repo.GetRun(context.Background(), "ghost")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestRepository_FinishRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC()
	if err := repo.CreateRun(ctx, "run-1", "seance", started); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ended := started.Add(90 * time.Second)
	if err := repo.FinishRun(ctx, "run-1", EndReasonCompleted, "END", ended); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.EndedAt == nil || !run.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", run.EndedAt, ended)
	}
	if run.EndReason != EndReasonCompleted {
		t.Errorf("EndReason = %q, want %q", run.EndReason, EndReasonCompleted)
	}
	if run.FinalState != "END" {
		t.Errorf("FinalState = %q, want END", run.FinalState)
	}
}

func TestRepository_FinishRunNotFound(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.FinishRun(context.Background(), "ghost", EndReasonStopped, "idle", time.Now())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestRepository_RecordTransition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC()
	if err := repo.CreateRun(ctx, "run-1", "seance", started); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	transitions := []Transition{
		{RunID: "run-1", Seq: 1, FromState: "", ToState: "idle", TriggerKind: "start", OccurredAt: started},
		{RunID: "run-1", Seq: 2, FromState: "idle", ToState: "gathering", TriggerKind: "button",
			TriggerDetail: "button=start", OccurredAt: started.Add(12 * time.Second), StateElapsedMS: 12000},
		{RunID: "run-1", Seq: 3, FromState: "gathering", ToState: "END", TriggerKind: "timeout",
			TriggerDetail: "delay=45s", OccurredAt: started.Add(57 * time.Second), StateElapsedMS: 45000},
	}
	for _, tr := range transitions {
		if err := repo.RecordTransition(ctx, tr); err != nil {
			t.Fatalf("RecordTransition(seq %d): %v", tr.Seq, err)
		}
	}

	got, err := repo.ListTransitions(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d transitions, want 3", len(got))
	}
	for i, tr := range got {
		if tr.Seq != i+1 {
			t.Errorf("transitions out of order: %+v", got)
		}
	}
	if got[1].TriggerDetail != "button=start" {
		t.Errorf("TriggerDetail = %q, want button=start", got[1].TriggerDetail)
	}
	if got[2].StateElapsedMS != 45000 {
		t.Errorf("StateElapsedMS = %d, want 45000", got[2].StateElapsedMS)
	}

	run, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.TransitionCount != 3 {
		t.Errorf("TransitionCount = %d, want 3", run.TransitionCount)
	}
}

func TestRepository_ListTransitionsEmpty(t *testing.T) {
	repo := setupTestDB(t)

	got, err := repo.ListTransitions(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d transitions for unknown run, want 0", len(got))
	}
}

func TestRepository_ListRuns(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		scene := "seance"
		if id == "run-2" {
			scene = "lights-out"
		}
		if err := repo.CreateRun(ctx, id, scene, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
	}

	all, err := repo.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d runs, want 3", len(all))
	}
	for i, want := range []string{"run-3", "run-2", "run-1"} {
		if all[i].RunID != want {
			t.Errorf("runs[%d] = %q, want %q (newest first)", i, all[i].RunID, want)
		}
	}

	seance, err := repo.ListRuns(ctx, "seance", 0)
	if err != nil {
		t.Fatalf("ListRuns(seance): %v", err)
	}
	if len(seance) != 2 {
		t.Fatalf("got %d seance runs, want 2", len(seance))
	}

	limited, err := repo.ListRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListRuns(limit 1): %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-3" {
		t.Errorf("limited = %+v, want just run-3", limited)
	}
}

func TestRepository_Stats(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC()
	if err := repo.CreateRun(ctx, "run-1", "seance", started); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := repo.CreateRun(ctx, "run-2", "seance", started.Add(time.Second)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := repo.RecordTransition(ctx, Transition{
		RunID: "run-1", Seq: 1, ToState: "idle", TriggerKind: "start", OccurredAt: started,
	}); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if err := repo.FinishRun(ctx, "run-1", EndReasonStopped, "idle", started.Add(time.Minute)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{TotalRuns: 2, OpenRuns: 1, TotalTransitions: 1}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
}
