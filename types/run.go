package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TotalStages is the fixed number of pipeline stages in a run. Overall
// progress math uses this as its denominator.
const TotalStages = 12

type RunState string

const (
	StatePending                 RunState = "pending"
	StateAwaitingShortlistReview RunState = "awaiting_shortlist_review"
	StateAwaitingFinalReview     RunState = "awaiting_final_review"
	StateCompleted               RunState = "completed"
	StateFailed                  RunState = "failed"
)

// StageState returns the lifecycle token for a stage ordinal ("stage_0" ...).
func StageState(stage int) RunState {
	return RunState(fmt.Sprintf("stage_%d", stage))
}

// StageOf reports the stage ordinal a state token maps to. At most one
// ordinal is current for any state; non-stage tokens report false.
func StageOf(state RunState) (int, bool) {
	raw, found := strings.CutPrefix(string(state), "stage_")
	if !found {
		return 0, false
	}
	stage, err := strconv.Atoi(raw)
	if err != nil || stage < 0 || stage >= TotalStages {
		return 0, false
	}
	return stage, true
}

func (s RunState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s RunState) IsValid() bool {
	switch s {
	case StatePending, StateAwaitingShortlistReview, StateAwaitingFinalReview, StateCompleted, StateFailed:
		return true
	}
	_, ok := StageOf(s)
	return ok
}

// AllRunStates enumerates the full state vocabulary in lifecycle order.
func AllRunStates() []RunState {
	out := []RunState{StatePending}
	for stage := 0; stage < TotalStages; stage++ {
		out = append(out, StageState(stage))
		if gate, ok := gateAfterStage(stage); ok {
			out = append(out, gate.State)
		}
	}
	return append(out, StateCompleted, StateFailed)
}

type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
)

func (s StageStatus) IsValid() bool {
	switch s {
	case StagePending, StageRunning, StageComplete, StageFailed:
		return true
	}
	return false
}

func AllStageStatuses() []StageStatus {
	return []StageStatus{StagePending, StageRunning, StageComplete, StageFailed}
}

// Gate is a pause point between stages requiring external confirmation
// before the run resumes.
type Gate struct {
	Name       string
	State      RunState
	AfterStage int
}

var gates = []Gate{
	{Name: "shortlist_review", State: StateAwaitingShortlistReview, AfterStage: 5},
	{Name: "final_review", State: StateAwaitingFinalReview, AfterStage: 10},
}

func GateByName(name string) (Gate, bool) {
	for _, g := range gates {
		if g.Name == name {
			return g, true
		}
	}
	return Gate{}, false
}

func gateAfterStage(stage int) (Gate, bool) {
	for _, g := range gates {
		if g.AfterStage == stage {
			return g, true
		}
	}
	return Gate{}, false
}

type ConnectionState string

const (
	ConnectionIdle         ConnectionState = "idle"
	ConnectionLive         ConnectionState = "live"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionPolling      ConnectionState = "polling"
)

func AllConnectionStates() []ConnectionState {
	return []ConnectionState{ConnectionIdle, ConnectionLive, ConnectionReconnecting, ConnectionPolling}
}

// Keys used inside RunSnapshot.Progress.
const (
	ProgressOverallPct  = "overall_pct"
	ProgressCancelled   = "cancelled"
	ProgressError       = "error"
	ProgressFailedStage = "failed_stage"
)

// GateMarker is the progress-map key stamped when a gate is reached.
func GateMarker(gate string) string {
	return "gate_" + gate
}

// StageCheckpoint is the per-stage progress record within a run.
type StageCheckpoint struct {
	ID          string      `json:"id"`
	Stage       int         `json:"stage_id"`
	Status      StageStatus `json:"status"`
	ProgressPct float64     `json:"progress_pct"`
	Summary     string      `json:"summary,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// RunSnapshot is the authoritative view of one run. Stages are kept sorted
// by ordinal with unique ordinals.
type RunSnapshot struct {
	RunID        string            `json:"run_id"`
	VersionID    string            `json:"version_id"`
	State        RunState          `json:"state"`
	CurrentStage *int              `json:"current_stage"`
	Progress     map[string]any    `json:"progress"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Stages       []StageCheckpoint `json:"stages"`
}

// Clone returns a deep copy so reducers can replace state without mutating
// the snapshot handed to consumers.
func (s *RunSnapshot) Clone() *RunSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.CurrentStage = cloneIntPtr(s.CurrentStage)
	out.StartedAt = cloneTimePtr(s.StartedAt)
	out.CompletedAt = cloneTimePtr(s.CompletedAt)
	out.Progress = make(map[string]any, len(s.Progress))
	for k, v := range s.Progress {
		out.Progress[k] = v
	}
	out.Stages = make([]StageCheckpoint, len(s.Stages))
	for i, cp := range s.Stages {
		cp.StartedAt = cloneTimePtr(cp.StartedAt)
		cp.CompletedAt = cloneTimePtr(cp.CompletedAt)
		out.Stages[i] = cp
	}
	return &out
}

// Checkpoint returns the checkpoint for a stage ordinal, or nil.
func (s *RunSnapshot) Checkpoint(stage int) *StageCheckpoint {
	if s == nil {
		return nil
	}
	for i := range s.Stages {
		if s.Stages[i].Stage == stage {
			return &s.Stages[i]
		}
	}
	return nil
}

// OverallPct reads the overall progress percentage from the progress map.
func (s *RunSnapshot) OverallPct() int {
	if s == nil || s.Progress == nil {
		return 0
	}
	switch v := s.Progress[ProgressOverallPct].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
