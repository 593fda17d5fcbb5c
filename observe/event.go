package observe

import "time"

type Kind string

type Status string

const (
	KindRun       Kind = "run"
	KindTransport Kind = "transport"
	KindCache     Kind = "cache"
	KindParse     Kind = "parse"
	KindPoll      Kind = "poll"
	KindCustom    Kind = "custom"
)

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Canonical event names emitted by the sync engine. The diagnostics journal
// aggregates on these.
const (
	NameSnapshotApplied = "snapshot.applied"
	NameEventApplied    = "event.applied"
	NameEventDropped    = "event.dropped"
	NameTransportOpen   = "transport.open"
	NameTransportError  = "transport.error"
	NameRefetch         = "refetch"
	NameCacheMerge      = "cache.merge"
	NameConnectionState = "connection.state"
)

// Event is one telemetry record from the sync engine: connection-state
// changes, applied or dropped push events, refetches, cache merges.
type Event struct {
	ID          string         `json:"id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	RunID       string         `json:"runId,omitempty"`
	CandidateID string         `json:"candidateId,omitempty"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status,omitempty"`
	Name        string         `json:"name,omitempty"`
	Connection  string         `json:"connection,omitempty"`
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"durationMs,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindCustom
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
}
