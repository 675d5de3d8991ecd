package jobs

import (
	"context"
	"testing"
)

func TestQueuedCannotJumpToReady(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "suspicious", "ext-sus")
	result, err := store.UpsertState(ctx, job.ID, StateChange{State: StateReady}, job.Revision)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Applied {
		t.Fatal("queued -> ready must not apply")
	}
	reread, _ := store.GetByID(ctx, job.ID)
	if reread.State != StateQueued {
		t.Fatalf("state changed unexpectedly: %s", reread.State)
	}
}

func TestReadyIsFinal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "finished", "ext-fin")
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 40})
	mustApply(t, store, job.ID, StateChange{State: StateReady, DurationSeconds: 930, PlaybackURL: "https://cdn.example/fin.m3u8"})

	current, _ := store.GetByID(ctx, job.ID)
	for _, target := range []State{StateQueued, StateInProgress, StateFailed} {
		result, err := store.UpsertState(ctx, job.ID, StateChange{State: target}, current.Revision)
		if err != nil {
			t.Fatalf("upsert to %s: %v", target, err)
		}
		if result.Applied {
			t.Fatalf("ready -> %s must not apply", target)
		}
	}
	if current.ProgressPercent != 100 {
		t.Fatalf("ready must force progress 100, got %d", current.ProgressPercent)
	}
}

func TestFailedCanBeReopened(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "flaky", "ext-flaky")
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 30})
	mustApply(t, store, job.ID, StateChange{State: StateFailed, ErrorCode: "worker_lost", ErrorMessage: "worker disappeared"})

	result := mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 0})
	if result.Job.ErrorCode != "" || result.Job.ErrorMessage != "" {
		t.Fatalf("reopening must clear error fields: %+v", result.Job)
	}
}

func TestLateReadyRevivesFailedJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "late success", "ext-late-ok")
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 90})
	mustApply(t, store, job.ID, StateChange{State: StateFailed, ErrorCode: "timeout"})

	result := mustApply(t, store, job.ID, StateChange{State: StateReady, PlaybackURL: "https://cdn.example/late.m3u8"})
	if result.Job.State != StateReady || result.Job.ErrorCode != "" {
		t.Fatalf("late ready must clear the failure: %+v", result.Job)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "progressing", "ext-prog")
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 50})

	current, _ := store.GetByID(ctx, job.ID)
	result, err := store.UpsertState(ctx, job.ID, StateChange{State: StateInProgress, ProgressPercent: 30}, current.Revision)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Applied {
		t.Fatal("progress regression must not apply")
	}

	result = mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 75})
	if result.Transitioned {
		t.Fatal("progress bump within in_progress is not a transition")
	}
	if result.Job.ProgressPercent != 75 {
		t.Fatalf("expected progress 75, got %d", result.Job.ProgressPercent)
	}
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "replayed", "ext-replay")
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 60})
	mustApply(t, store, job.ID, StateChange{State: StateReady, DurationSeconds: 120})

	current, _ := store.GetByID(ctx, job.ID)
	result, err := store.UpsertState(ctx, job.ID, StateChange{State: StateReady, DurationSeconds: 120}, current.Revision)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Applied || result.Conflict {
		t.Fatalf("duplicate ready must be a silent no-op: %+v", result)
	}
	reread, _ := store.GetByID(ctx, job.ID)
	if reread.Revision != current.Revision {
		t.Fatalf("no-op must not bump revision: %d -> %d", current.Revision, reread.Revision)
	}
}

func TestStaleRevisionConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "contended", "ext-race")
	staleRevision := job.Revision
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 10})

	result, err := store.UpsertState(ctx, job.ID, StateChange{State: StateFailed, ErrorCode: "late_report"}, staleRevision)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Applied {
		t.Fatal("stale revision must not apply")
	}
	if !result.Conflict {
		t.Fatal("applicable change at a stale revision must report a conflict")
	}
}

func TestStaleRevisionOnTerminalIsSilent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "settled", "ext-settled")
	mustApply(t, store, job.ID, StateChange{State: StateInProgress, ProgressPercent: 80})
	mustApply(t, store, job.ID, StateChange{State: StateReady})

	result, err := store.UpsertState(ctx, job.ID, StateChange{State: StateFailed, ErrorCode: "late"}, 1)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Applied || result.Conflict {
		t.Fatalf("stale write against terminal state must be dropped silently: %+v", result)
	}
}

func TestUpsertUnknownJob(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.UpsertState(context.Background(), "ghost", StateChange{State: StateInProgress}, 1); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestUpsertUnknownState(t *testing.T) {
	store := newTestStore(t)
	job, _ := store.Create(context.Background(), "bad state", "ext-bad")
	if _, err := store.UpsertState(context.Background(), job.ID, StateChange{State: "exploded"}, job.Revision); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestParseState(t *testing.T) {
	if state, ok := ParseState("  In_Progress "); !ok || state != StateInProgress {
		t.Fatalf("parse failed: %s %v", state, ok)
	}
	if _, ok := ParseState("bogus"); ok {
		t.Fatal("bogus state must not parse")
	}
}
