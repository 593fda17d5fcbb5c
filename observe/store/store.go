package store

import (
	"context"
	"time"

	"github.com/namewise/runwatch-go/observe"
)

type ListQuery struct {
	Limit  int
	Offset int
}

type MetricsQuery struct {
	Since *time.Time
}

// MetricsSummary aggregates sync health over the journal window.
type MetricsSummary struct {
	SnapshotsApplied  int64 `json:"snapshotsApplied"`
	EventsApplied     int64 `json:"eventsApplied"`
	EventsDropped     int64 `json:"eventsDropped"`
	TransportOpens    int64 `json:"transportOpens"`
	TransportFailures int64 `json:"transportFailures"`
	Refetches         int64 `json:"refetches"`
	RefetchFailures   int64 `json:"refetchFailures"`
	CacheMerges       int64 `json:"cacheMerges"`
}

type Store interface {
	SaveEvent(ctx context.Context, event observe.Event) error
	ListEventsByRun(ctx context.Context, runID string, query ListQuery) ([]observe.Event, error)
	AggregateMetrics(ctx context.Context, query MetricsQuery) (MetricsSummary, error)
	Close() error
}
