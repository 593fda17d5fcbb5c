// Package mirror persists the latest run snapshot outside the process, so a
// restarted client can render last-known progress before the first fetch
// resolves.
package mirror

import (
	"context"
	"errors"

	"github.com/namewise/runwatch-go/types"
)

// ErrNotFound is returned when no snapshot has been mirrored for a run.
var ErrNotFound = errors.New("mirror: snapshot not found")

// Store is a last-writer-wins snapshot mirror keyed by run id.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *types.RunSnapshot) error
	LoadSnapshot(ctx context.Context, runID string) (*types.RunSnapshot, error)
	Close() error
}
