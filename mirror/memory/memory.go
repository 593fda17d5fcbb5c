// Package memory provides an in-process snapshot mirror, mainly for tests
// and single-process tools.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/namewise/runwatch-go/mirror"
	"github.com/namewise/runwatch-go/types"
)

type Store struct {
	mu    sync.RWMutex
	snaps map[string]*types.RunSnapshot
}

func New() *Store {
	return &Store{snaps: map[string]*types.RunSnapshot{}}
}

func (s *Store) SaveSnapshot(_ context.Context, snap *types.RunSnapshot) error {
	if snap == nil || snap.RunID == "" {
		return fmt.Errorf("snapshot with run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.RunID] = snap.Clone()
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, runID string) (*types.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[runID]
	if !ok {
		return nil, mirror.ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *Store) Close() error {
	return nil
}

var _ mirror.Store = (*Store)(nil)
