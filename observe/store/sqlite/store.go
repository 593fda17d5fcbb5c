package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/namewise/runwatch-go/observe"
	observestore "github.com/namewise/runwatch-go/observe/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultLimit = 200

// Store is a sqlite-backed sync-diagnostics journal.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveEvent(ctx context.Context, event observe.Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	event.Normalize()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode journal attributes: %w", err)
	}
	const q = `
INSERT INTO sync_events (
  event_id, run_id, candidate_id, kind, status, name, connection,
  message, error, duration_ms, attributes, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(
		ctx,
		q,
		event.ID,
		event.RunID,
		event.CandidateID,
		string(event.Kind),
		string(event.Status),
		event.Name,
		event.Connection,
		event.Message,
		event.Error,
		event.DurationMs,
		string(attrs),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save journal event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsByRun(ctx context.Context, runID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("runID is required")
	}
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	const q = `
SELECT event_id, run_id, candidate_id, kind, status, name, connection,
       message, error, duration_ms, attributes, timestamp
FROM sync_events
WHERE run_id = ?
ORDER BY timestamp ASC
LIMIT ? OFFSET ?;
`
	rows, err := s.db.QueryContext(ctx, q, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal events: %w", err)
	}
	defer rows.Close()

	out := make([]observe.Event, 0, limit)
	for rows.Next() {
		var (
			event observe.Event
			kind  string
			state string
			attrs string
			ts    string
		)
		if err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.CandidateID,
			&kind,
			&state,
			&event.Name,
			&event.Connection,
			&event.Message,
			&event.Error,
			&event.DurationMs,
			&attrs,
			&ts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		event.Kind = observe.Kind(kind)
		event.Status = observe.Status(state)
		if attrs != "" {
			_ = json.Unmarshal([]byte(attrs), &event.Attributes)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = parsed
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func (s *Store) AggregateMetrics(ctx context.Context, query observestore.MetricsQuery) (observestore.MetricsSummary, error) {
	var summary observestore.MetricsSummary
	if s == nil || s.db == nil {
		return summary, nil
	}
	since := ""
	if query.Since != nil {
		since = query.Since.UTC().Format(time.RFC3339Nano)
	}
	const q = `
SELECT
  COUNT(CASE WHEN name = ? AND status = 'completed' THEN 1 END),
  COUNT(CASE WHEN name = ? AND status = 'completed' THEN 1 END),
  COUNT(CASE WHEN name = ? THEN 1 END),
  COUNT(CASE WHEN name = ? AND status = 'completed' THEN 1 END),
  COUNT(CASE WHEN kind = 'transport' AND status = 'failed' THEN 1 END),
  COUNT(CASE WHEN name = ? AND status = 'completed' THEN 1 END),
  COUNT(CASE WHEN name = ? AND status = 'failed' THEN 1 END),
  COUNT(CASE WHEN kind = 'cache' AND status = 'completed' THEN 1 END)
FROM sync_events
WHERE (? = '' OR timestamp >= ?);
`
	row := s.db.QueryRowContext(
		ctx,
		q,
		observe.NameSnapshotApplied,
		observe.NameEventApplied,
		observe.NameEventDropped,
		observe.NameTransportOpen,
		observe.NameRefetch,
		observe.NameRefetch,
		since,
		since,
	)
	if err := row.Scan(
		&summary.SnapshotsApplied,
		&summary.EventsApplied,
		&summary.EventsDropped,
		&summary.TransportOpens,
		&summary.TransportFailures,
		&summary.Refetches,
		&summary.RefetchFailures,
		&summary.CacheMerges,
	); err != nil {
		return summary, fmt.Errorf("failed to aggregate journal metrics: %w", err)
	}
	return summary, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ observestore.Store = (*Store)(nil)
