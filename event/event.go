// Package event defines the typed domain events carried by the push
// transport and the parser that decodes raw payloads into them.
package event

import "github.com/namewise/runwatch-go/types"

// Wire names of the push events, as emitted by the server.
const (
	NameSnapshot        = "snapshot"
	NameStageStarted    = "stage_started"
	NameStageProgress   = "stage_progress"
	NameStageCompleted  = "stage_completed"
	NameStageFailed     = "stage_failed"
	NameGateReached     = "gate_reached"
	NameRunCompleted    = "run_completed"
	NameRunFailed       = "run_failed"
	NameClearanceUpdate = "name_clearance_update"
)

// Event is one decoded push event. Every variant except Snapshot requires an
// existing snapshot to apply against.
type Event interface {
	Name() string
	Run() string
}

// Snapshot replaces the entire local view with the carried state.
type Snapshot struct {
	Snap *types.RunSnapshot
}

func (e *Snapshot) Name() string { return NameSnapshot }
func (e *Snapshot) Run() string  { return e.Snap.RunID }

type StageStarted struct {
	RunID string
	Stage int
}

func (e *StageStarted) Name() string { return NameStageStarted }
func (e *StageStarted) Run() string  { return e.RunID }

type StageProgress struct {
	RunID   string
	Stage   int
	Pct     float64
	Summary string
}

func (e *StageProgress) Name() string { return NameStageProgress }
func (e *StageProgress) Run() string  { return e.RunID }

type StageCompleted struct {
	RunID   string
	Stage   int
	Summary string
}

func (e *StageCompleted) Name() string { return NameStageCompleted }
func (e *StageCompleted) Run() string  { return e.RunID }

type StageFailed struct {
	RunID string
	Stage int
	Err   string
}

func (e *StageFailed) Name() string { return NameStageFailed }
func (e *StageFailed) Run() string  { return e.RunID }

type GateReached struct {
	RunID string
	Gate  types.Gate
}

func (e *GateReached) Name() string { return NameGateReached }
func (e *GateReached) Run() string  { return e.RunID }

type RunCompleted struct {
	RunID string
}

func (e *RunCompleted) Name() string { return NameRunCompleted }
func (e *RunCompleted) Run() string  { return e.RunID }

// RunFailed is also the decoded form of unknown event types that still carry
// the minimum required shape.
type RunFailed struct {
	RunID     string
	Stage     *int
	Err       string
	Cancelled bool
}

func (e *RunFailed) Name() string { return NameRunFailed }
func (e *RunFailed) Run() string  { return e.RunID }

// ClearanceUpdate is an out-of-band child-entity update. It is routed to the
// candidate cache, never to the progress reducer.
type ClearanceUpdate struct {
	RunID       string
	CandidateID string
	Dimension   types.ClearanceDimension
	Value       types.ClearanceRecord
}

func (e *ClearanceUpdate) Name() string { return NameClearanceUpdate }
func (e *ClearanceUpdate) Run() string  { return e.RunID }
