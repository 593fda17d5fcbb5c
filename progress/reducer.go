// Package progress holds the pure reducer that folds push events into a run
// snapshot. Percentage math truncates so overall progress never reports 100
// before the final confirmation event.
package progress

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/namewise/runwatch-go/event"
	"github.com/namewise/runwatch-go/types"
)

// Apply folds one event into the snapshot and returns the next snapshot.
// The input is never mutated. A nil result means no snapshot exists to apply
// the event against and the caller must refetch authoritative state.
func Apply(snap *types.RunSnapshot, ev event.Event) *types.RunSnapshot {
	return ApplyAt(snap, ev, time.Now().UTC())
}

// ApplyAt is Apply with an explicit clock.
func ApplyAt(snap *types.RunSnapshot, ev event.Event, now time.Time) *types.RunSnapshot {
	if e, ok := ev.(*event.Snapshot); ok {
		return e.Snap
	}
	if _, ok := ev.(*event.ClearanceUpdate); ok {
		// Routed to the candidate cache, not the run snapshot.
		return snap
	}
	if snap == nil {
		return nil
	}

	next := snap.Clone()
	ensureProgress(next)

	switch e := ev.(type) {
	case *event.StageStarted:
		next.State = types.StageState(e.Stage)
		stage := e.Stage
		next.CurrentStage = &stage
		if next.StartedAt == nil {
			at := now
			next.StartedAt = &at
		}
		cp := checkpoint(next, e.Stage)
		cp.Status = types.StageRunning
		cp.ProgressPct = 0
		if cp.StartedAt == nil {
			at := now
			cp.StartedAt = &at
		}
		raiseOverall(next, overallPct(e.Stage, 0))
	case *event.StageProgress:
		cp := checkpoint(next, e.Stage)
		cp.ProgressPct = e.Pct
		if e.Summary != "" {
			cp.Summary = e.Summary
		}
		raiseOverall(next, overallPct(e.Stage, e.Pct))
	case *event.StageCompleted:
		cp := checkpoint(next, e.Stage)
		cp.Status = types.StageComplete
		cp.ProgressPct = 100
		if e.Summary != "" {
			cp.Summary = e.Summary
		}
		if cp.CompletedAt == nil {
			at := now
			cp.CompletedAt = &at
		}
		raiseOverall(next, overallPct(e.Stage, 100))
	case *event.StageFailed:
		next.State = types.StateFailed
		next.Error = e.Err
		if next.CompletedAt == nil {
			at := now
			next.CompletedAt = &at
		}
		cp := checkpoint(next, e.Stage)
		cp.Status = types.StageFailed
		cp.Summary = e.Err
		if cp.CompletedAt == nil {
			at := now
			cp.CompletedAt = &at
		}
	case *event.GateReached:
		next.State = e.Gate.State
		next.Progress[types.GateMarker(e.Gate.Name)] = true
		raiseOverall(next, overallPct(e.Gate.AfterStage, 100))
	case *event.RunCompleted:
		next.State = types.StateCompleted
		next.CurrentStage = nil
		next.Error = ""
		next.Progress[types.ProgressOverallPct] = 100
		if next.CompletedAt == nil {
			at := now
			next.CompletedAt = &at
		}
	case *event.RunFailed:
		next.State = types.StateFailed
		next.Error = e.Err
		if e.Err != "" {
			next.Progress[types.ProgressError] = e.Err
		}
		if e.Cancelled {
			next.Progress[types.ProgressCancelled] = true
		}
		if e.Stage != nil {
			next.Progress[types.ProgressFailedStage] = *e.Stage
		}
		if next.CompletedAt == nil {
			at := now
			next.CompletedAt = &at
		}
	default:
		return snap
	}
	return next
}

// overallPct truncates, never rounds up.
func overallPct(stage int, stagePct float64) int {
	total := float64(types.TotalStages * 100)
	pct := int(math.Floor((float64(stage)*100 + stagePct) / total * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// raiseOverall keeps visible progress monotone.
func raiseOverall(snap *types.RunSnapshot, pct int) {
	if pct > snap.OverallPct() {
		snap.Progress[types.ProgressOverallPct] = pct
	}
}

func ensureProgress(snap *types.RunSnapshot) {
	if snap.Progress == nil {
		snap.Progress = map[string]any{}
	}
}

// checkpoint returns the checkpoint for the stage, synthesizing one and
// keeping the list sorted by ordinal when the server never announced it.
func checkpoint(snap *types.RunSnapshot, stage int) *types.StageCheckpoint {
	if cp := snap.Checkpoint(stage); cp != nil {
		return cp
	}
	snap.Stages = append(snap.Stages, types.StageCheckpoint{
		ID:     fmt.Sprintf("stage-%d", stage),
		Stage:  stage,
		Status: types.StagePending,
	})
	sort.SliceStable(snap.Stages, func(i, j int) bool {
		return snap.Stages[i].Stage < snap.Stages[j].Stage
	})
	return snap.Checkpoint(stage)
}
