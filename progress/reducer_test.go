package progress

import (
	"reflect"
	"testing"
	"time"

	"github.com/namewise/runwatch-go/event"
	"github.com/namewise/runwatch-go/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedSnapshot(stage int) *types.RunSnapshot {
	current := stage
	return &types.RunSnapshot{
		RunID:        "r1",
		VersionID:    "v1",
		State:        types.StageState(stage),
		CurrentStage: &current,
		Progress:     map[string]any{},
		Stages: []types.StageCheckpoint{
			{ID: "cp-2", Stage: stage, Status: types.StageRunning, ProgressPct: 0},
		},
	}
}

func TestApplyRequiresSnapshotFirst(t *testing.T) {
	next := ApplyAt(nil, &event.StageProgress{RunID: "r1", Stage: 2, Pct: 50}, testNow)
	if next != nil {
		t.Fatalf("expected nil without a prior snapshot, got %+v", next)
	}
	snap := seedSnapshot(2)
	next = ApplyAt(nil, &event.Snapshot{Snap: snap}, testNow)
	if next != snap {
		t.Fatalf("snapshot event must return the carried snapshot verbatim")
	}
}

func TestSnapshotReplaceDiscardsPriorState(t *testing.T) {
	prior := seedSnapshot(5)
	prior.Error = "stale"
	replacement := seedSnapshot(1)
	next := ApplyAt(prior, &event.Snapshot{Snap: replacement}, testNow)
	if next != replacement {
		t.Fatalf("expected verbatim replacement")
	}
}

func TestStageProgressScenario(t *testing.T) {
	snap := seedSnapshot(2)
	next := ApplyAt(snap, &event.StageProgress{RunID: "r1", Stage: 2, Pct: 50}, testNow)
	if got := next.OverallPct(); got != 20 {
		t.Fatalf("expected overall 20, got %d", got)
	}
	if cp := next.Checkpoint(2); cp.ProgressPct != 50 || cp.Status != types.StageRunning {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}

func TestStageCompletedScenario(t *testing.T) {
	snap := seedSnapshot(1)
	next := ApplyAt(snap, &event.StageCompleted{RunID: "r1", Stage: 1, Summary: "ok"}, testNow)
	cp := next.Checkpoint(1)
	if cp.Status != types.StageComplete || cp.ProgressPct != 100 || cp.Summary != "ok" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
	if got := next.OverallPct(); got != 16 {
		t.Fatalf("expected overall 16, got %d", got)
	}
	if cp.CompletedAt == nil || !cp.CompletedAt.Equal(testNow) {
		t.Fatalf("completion time not stamped")
	}
}

func TestStageStartedSynthesizesCheckpointSorted(t *testing.T) {
	snap := seedSnapshot(2)
	snap.Stages = []types.StageCheckpoint{
		{ID: "cp-0", Stage: 0, Status: types.StageComplete, ProgressPct: 100},
		{ID: "cp-4", Stage: 4, Status: types.StagePending},
	}
	next := ApplyAt(snap, &event.StageStarted{RunID: "r1", Stage: 3}, testNow)
	if next.State != types.StageState(3) || next.CurrentStage == nil || *next.CurrentStage != 3 {
		t.Fatalf("unexpected run state: %+v", next)
	}
	var ordinals []int
	for _, cp := range next.Stages {
		ordinals = append(ordinals, cp.Stage)
	}
	if !reflect.DeepEqual(ordinals, []int{0, 3, 4}) {
		t.Fatalf("checkpoints not sorted by ordinal: %v", ordinals)
	}
	cp := next.Checkpoint(3)
	if cp.Status != types.StageRunning || cp.StartedAt == nil {
		t.Fatalf("unexpected synthesized checkpoint: %+v", cp)
	}
	if next.StartedAt == nil || !next.StartedAt.Equal(testNow) {
		t.Fatalf("run start time not seeded")
	}
}

func TestOverallProgressMonotoneAcrossLifecycle(t *testing.T) {
	snap := ApplyAt(nil, &event.Snapshot{Snap: seedSnapshot(0)}, testNow)
	last := snap.OverallPct()
	steps := []event.Event{
		&event.StageStarted{RunID: "r1", Stage: 0},
		&event.StageProgress{RunID: "r1", Stage: 0, Pct: 60},
		&event.StageCompleted{RunID: "r1", Stage: 0},
		&event.StageStarted{RunID: "r1", Stage: 1},
		&event.StageProgress{RunID: "r1", Stage: 1, Pct: 30},
		&event.StageProgress{RunID: "r1", Stage: 1, Pct: 90},
		&event.StageCompleted{RunID: "r1", Stage: 1},
		&event.GateReached{RunID: "r1", Gate: mustGate(t, "shortlist_review")},
		&event.StageStarted{RunID: "r1", Stage: 6},
		&event.RunCompleted{RunID: "r1"},
	}
	for _, step := range steps {
		snap = ApplyAt(snap, step, testNow)
		got := snap.OverallPct()
		if got < last {
			t.Fatalf("overall progress regressed from %d to %d at %s", last, got, step.Name())
		}
		if got > 100 {
			t.Fatalf("overall progress exceeded 100: %d", got)
		}
		last = got
	}
	if last != 100 {
		t.Fatalf("expected 100 after run_completed, got %d", last)
	}
}

func TestStageProgressIdempotent(t *testing.T) {
	snap := seedSnapshot(2)
	ev := &event.StageProgress{RunID: "r1", Stage: 2, Pct: 50, Summary: "halfway"}
	once := ApplyAt(snap, ev, testNow)
	twice := ApplyAt(once, ev, testNow)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("applying the same event twice diverged:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestStageProgressDoesNotMutateInput(t *testing.T) {
	snap := seedSnapshot(2)
	before := snap.Clone()
	_ = ApplyAt(snap, &event.StageProgress{RunID: "r1", Stage: 2, Pct: 75}, testNow)
	if !reflect.DeepEqual(snap, before) {
		t.Fatalf("reducer mutated its input")
	}
}

func TestGateReached(t *testing.T) {
	snap := seedSnapshot(5)
	before := append([]types.StageCheckpoint(nil), snap.Stages...)
	next := ApplyAt(snap, &event.GateReached{RunID: "r1", Gate: mustGate(t, "shortlist_review")}, testNow)
	if next.State != types.StateAwaitingShortlistReview {
		t.Fatalf("unexpected state: %s", next.State)
	}
	if got := next.OverallPct(); got != 50 {
		t.Fatalf("expected overall 50, got %d", got)
	}
	if next.Progress[types.GateMarker("shortlist_review")] != true {
		t.Fatalf("gate marker not stamped")
	}
	if !reflect.DeepEqual(next.Stages, before) {
		t.Fatalf("gate event must not alter stage checkpoints")
	}
}

func TestStageFailed(t *testing.T) {
	snap := seedSnapshot(4)
	next := ApplyAt(snap, &event.StageFailed{RunID: "r1", Stage: 4, Err: "generator crashed"}, testNow)
	if next.State != types.StateFailed || next.Error != "generator crashed" {
		t.Fatalf("unexpected run state: %+v", next)
	}
	cp := next.Checkpoint(4)
	if cp.Status != types.StageFailed || cp.Summary != "generator crashed" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
	if next.CompletedAt == nil {
		t.Fatalf("completion time not stamped")
	}
}

func TestRunFailedCancelledScenario(t *testing.T) {
	snap := seedSnapshot(7)
	before := append([]types.StageCheckpoint(nil), snap.Stages...)
	next := ApplyAt(snap, &event.RunFailed{RunID: "r1", Stage: nil, Err: "x", Cancelled: true}, testNow)
	if next.State != types.StateFailed || next.Error != "x" {
		t.Fatalf("unexpected run state: %+v", next)
	}
	if next.Progress[types.ProgressCancelled] != true {
		t.Fatalf("cancelled flag not recorded in progress map")
	}
	if !reflect.DeepEqual(next.Stages, before) {
		t.Fatalf("run_failed must leave stage checkpoints untouched")
	}
}

func TestRunCompleted(t *testing.T) {
	snap := seedSnapshot(11)
	snap.Error = "transient"
	next := ApplyAt(snap, &event.RunCompleted{RunID: "r1"}, testNow)
	if next.State != types.StateCompleted || next.CurrentStage != nil || next.Error != "" {
		t.Fatalf("unexpected run state: %+v", next)
	}
	if next.OverallPct() != 100 {
		t.Fatalf("expected 100, got %d", next.OverallPct())
	}
}

func TestClearanceUpdatePassesThrough(t *testing.T) {
	snap := seedSnapshot(3)
	next := ApplyAt(snap, &event.ClearanceUpdate{RunID: "r1", CandidateID: "c1", Dimension: types.ClearanceSocial, Value: types.ClearanceRecord{Status: types.ClearanceClear}}, testNow)
	if next != snap {
		t.Fatalf("clearance updates must pass through unchanged")
	}
}

func mustGate(t *testing.T, name string) types.Gate {
	t.Helper()
	gate, ok := types.GateByName(name)
	if !ok {
		t.Fatalf("gate %q not found", name)
	}
	return gate
}
