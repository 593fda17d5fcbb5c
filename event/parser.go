package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/namewise/runwatch-go/types"
)

// MalformedEventError identifies the first offending field of an
// undecodable push payload.
type MalformedEventError struct {
	Event  string
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s event: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("malformed %s event: field %q: %s", e.Event, e.Field, e.Reason)
}

func malformed(event, field, reason string) error {
	return &MalformedEventError{Event: event, Field: field, Reason: reason}
}

// Parse decodes one push-transport message into a typed event. Unknown event
// types degrade to the generic run-failure variant when the payload carries
// at least a run id; otherwise the parse fails.
func Parse(name string, data []byte) (Event, error) {
	switch name {
	case NameSnapshot:
		return parseSnapshot(data)
	case NameStageStarted:
		f, err := decodeFields(name, data)
		if err != nil {
			return nil, err
		}
		runID, err := f.str(name, "run_id")
		if err != nil {
			return nil, err
		}
		stage, err := f.stage(name)
		if err != nil {
			return nil, err
		}
		return &StageStarted{RunID: runID, Stage: stage}, nil
	case NameStageProgress:
		f, err := decodeFields(name, data)
		if err != nil {
			return nil, err
		}
		runID, err := f.str(name, "run_id")
		if err != nil {
			return nil, err
		}
		stage, err := f.stage(name)
		if err != nil {
			return nil, err
		}
		pct, err := f.num(name, "progress_pct")
		if err != nil {
			return nil, err
		}
		summary, err := f.optStr(name, "summary")
		if err != nil {
			return nil, err
		}
		return &StageProgress{RunID: runID, Stage: stage, Pct: pct, Summary: summary}, nil
	case NameStageCompleted:
		f, err := decodeFields(name, data)
		if err != nil {
			return nil, err
		}
		runID, err := f.str(name, "run_id")
		if err != nil {
			return nil, err
		}
		stage, err := f.stage(name)
		if err != nil {
			return nil, err
		}
		summary, err := f.optStr(name, "summary")
		if err != nil {
			return nil, err
		}
		return &StageCompleted{RunID: runID, Stage: stage, Summary: summary}, nil
	case NameStageFailed:
		f, err := decodeFields(name, data)
		if err != nil {
			return nil, err
		}
		runID, err := f.str(name, "run_id")
		if err != nil {
			return nil, err
		}
		stage, err := f.stage(name)
		if err != nil {
			return nil, err
		}
		errText, err := f.str(name, "error")
		if err != nil {
			return nil, err
		}
		return &StageFailed{RunID: runID, Stage: stage, Err: errText}, nil
	case NameGateReached:
		f, err := decodeFields(name, data)
		if err != nil {
			return nil, err
		}
		runID, err := f.str(name, "run_id")
		if err != nil {
			return nil, err
		}
		gateName, err := f.str(name, "gate")
		if err != nil {
			return nil, err
		}
		gate, ok := types.GateByName(gateName)
		if !ok {
			return nil, malformed(name, "gate", fmt.Sprintf("unknown gate %q", gateName))
		}
		return &GateReached{RunID: runID, Gate: gate}, nil
	case NameRunCompleted:
		f, err := decodeFields(name, data)
		if err != nil {
			return nil, err
		}
		runID, err := f.str(name, "run_id")
		if err != nil {
			return nil, err
		}
		return &RunCompleted{RunID: runID}, nil
	case NameClearanceUpdate:
		return parseClearanceUpdate(data)
	default:
		return parseRunFailed(name, data)
	}
}

// parseRunFailed also serves as the default branch for unknown event types.
func parseRunFailed(name string, data []byte) (Event, error) {
	f, err := decodeFields(name, data)
	if err != nil {
		return nil, err
	}
	runID, err := f.str(name, "run_id")
	if err != nil {
		return nil, err
	}
	stage, err := f.optInt(name, "stage_id")
	if err != nil {
		return nil, err
	}
	errText, err := f.optStr(name, "error")
	if err != nil {
		return nil, err
	}
	cancelled, err := f.optBool(name, "cancelled")
	if err != nil {
		return nil, err
	}
	if errText == "" && name != NameRunFailed {
		errText = fmt.Sprintf("unexpected event %q", name)
	}
	return &RunFailed{RunID: runID, Stage: stage, Err: errText, Cancelled: cancelled}, nil
}

func parseClearanceUpdate(data []byte) (Event, error) {
	const name = NameClearanceUpdate
	f, err := decodeFields(name, data)
	if err != nil {
		return nil, err
	}
	runID, err := f.str(name, "run_id")
	if err != nil {
		return nil, err
	}
	candidateID, err := f.str(name, "candidate_id")
	if err != nil {
		return nil, err
	}
	dimRaw, err := f.str(name, "dimension")
	if err != nil {
		return nil, err
	}
	dim := types.ClearanceDimension(dimRaw)
	if !dim.IsValid() {
		return nil, malformed(name, "dimension", fmt.Sprintf("unknown dimension %q", dimRaw))
	}
	raw, ok := f["value"]
	if !ok || isNull(raw) {
		return nil, malformed(name, "value", "missing")
	}
	var value types.ClearanceRecord
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, malformed(name, "value", "not a clearance record")
	}
	if value.Status == "" {
		return nil, malformed(name, "value.status", "missing")
	}
	return &ClearanceUpdate{RunID: runID, CandidateID: candidateID, Dimension: dim, Value: value}, nil
}

// parseSnapshot strictly validates the full snapshot shape; a partial
// snapshot is a hard failure.
func parseSnapshot(data []byte) (Event, error) {
	const name = NameSnapshot
	f, err := decodeFields(name, data)
	if err != nil {
		return nil, err
	}
	snap := &types.RunSnapshot{}
	if snap.RunID, err = f.str(name, "run_id"); err != nil {
		return nil, err
	}
	if snap.VersionID, err = f.str(name, "version_id"); err != nil {
		return nil, err
	}
	stateRaw, err := f.str(name, "state")
	if err != nil {
		return nil, err
	}
	snap.State = types.RunState(stateRaw)
	if !snap.State.IsValid() {
		return nil, malformed(name, "state", fmt.Sprintf("unknown state %q", stateRaw))
	}
	if snap.CurrentStage, err = f.optInt(name, "current_stage"); err != nil {
		return nil, err
	}
	if snap.Progress, err = f.object(name, "progress"); err != nil {
		return nil, err
	}
	if snap.StartedAt, err = f.optTime(name, "started_at"); err != nil {
		return nil, err
	}
	if snap.CompletedAt, err = f.optTime(name, "completed_at"); err != nil {
		return nil, err
	}
	if snap.Error, err = f.optStr(name, "error"); err != nil {
		return nil, err
	}

	rawStages, ok := f["stages"]
	if !ok || isNull(rawStages) {
		return nil, malformed(name, "stages", "missing")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rawStages, &entries); err != nil {
		return nil, malformed(name, "stages", "not an array")
	}
	snap.Stages = make([]types.StageCheckpoint, 0, len(entries))
	for i, entry := range entries {
		cp, err := parseCheckpoint(fmt.Sprintf("stages[%d]", i), entry)
		if err != nil {
			return nil, err
		}
		snap.Stages = append(snap.Stages, cp)
	}
	sort.SliceStable(snap.Stages, func(i, j int) bool {
		return snap.Stages[i].Stage < snap.Stages[j].Stage
	})
	for i := 1; i < len(snap.Stages); i++ {
		if snap.Stages[i].Stage == snap.Stages[i-1].Stage {
			return nil, malformed(name, "stages", fmt.Sprintf("duplicate stage ordinal %d", snap.Stages[i].Stage))
		}
	}
	return &Snapshot{Snap: snap}, nil
}

func parseCheckpoint(path string, data json.RawMessage) (types.StageCheckpoint, error) {
	const name = NameSnapshot
	var cp types.StageCheckpoint
	f := fields{}
	if err := json.Unmarshal(data, &f); err != nil {
		return cp, malformed(name, path, "not an object")
	}
	var err error
	if cp.ID, err = f.strField(name, path+".id", "id"); err != nil {
		return cp, err
	}
	stage, err := f.intField(name, path+".stage_id", "stage_id")
	if err != nil {
		return cp, err
	}
	cp.Stage = stage
	statusRaw, err := f.strField(name, path+".status", "status")
	if err != nil {
		return cp, err
	}
	cp.Status = types.StageStatus(statusRaw)
	if !cp.Status.IsValid() {
		return cp, malformed(name, path+".status", fmt.Sprintf("unknown status %q", statusRaw))
	}
	if cp.ProgressPct, err = f.numField(name, path+".progress_pct", "progress_pct"); err != nil {
		return cp, err
	}
	if cp.Summary, err = f.optStrField(name, path+".summary", "summary"); err != nil {
		return cp, err
	}
	if cp.StartedAt, err = f.optTimeField(name, path+".started_at", "started_at"); err != nil {
		return cp, err
	}
	if cp.CompletedAt, err = f.optTimeField(name, path+".completed_at", "completed_at"); err != nil {
		return cp, err
	}
	return cp, nil
}

type fields map[string]json.RawMessage

func decodeFields(event string, data []byte) (fields, error) {
	f := fields{}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, malformed(event, "", "payload is not a JSON object")
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (f fields) str(event, key string) (string, error) {
	return f.strField(event, key, key)
}

func (f fields) strField(event, path, key string) (string, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return "", malformed(event, path, "missing")
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", malformed(event, path, "not a string")
	}
	if out == "" {
		return "", malformed(event, path, "empty")
	}
	return out, nil
}

func (f fields) optStr(event, key string) (string, error) {
	return f.optStrField(event, key, key)
}

func (f fields) optStrField(event, path, key string) (string, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", malformed(event, path, "not a string")
	}
	return out, nil
}

// stage reads and range-checks the stage_id ordinal.
func (f fields) stage(event string) (int, error) {
	stage, err := f.intField(event, "stage_id", "stage_id")
	if err != nil {
		return 0, err
	}
	if stage < 0 || stage >= types.TotalStages {
		return 0, malformed(event, "stage_id", fmt.Sprintf("ordinal %d out of range", stage))
	}
	return stage, nil
}

func (f fields) intField(event, path, key string) (int, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return 0, malformed(event, path, "missing")
	}
	var out float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, malformed(event, path, "not an integer")
	}
	if out != float64(int(out)) {
		return 0, malformed(event, path, "not an integer")
	}
	return int(out), nil
}

func (f fields) optInt(event, key string) (*int, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	out, err := f.intField(event, key, key)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f fields) num(event, key string) (float64, error) {
	return f.numField(event, key, key)
}

func (f fields) numField(event, path, key string) (float64, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return 0, malformed(event, path, "missing")
	}
	var out float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, malformed(event, path, "not a number")
	}
	return out, nil
}

func (f fields) optBool(event, key string) (bool, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, malformed(event, key, "not a boolean")
	}
	return out, nil
}

func (f fields) optTime(event, key string) (*time.Time, error) {
	return f.optTimeField(event, key, key)
}

func (f fields) optTimeField(event, path, key string) (*time.Time, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var out time.Time
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, malformed(event, path, "not an RFC 3339 timestamp")
	}
	return &out, nil
}

func (f fields) object(event, key string) (map[string]any, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil, malformed(event, key, "missing")
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, malformed(event, key, "not an object")
	}
	return out, nil
}
