// Package candidates keeps the multi-query candidate cache consistent with
// optimistic local edits, authoritative confirmations, and out-of-band
// clearance updates arriving on the push channel.
package candidates

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/namewise/runwatch-go/api"
	"github.com/namewise/runwatch-go/cache"
	"github.com/namewise/runwatch-go/event"
	"github.com/namewise/runwatch-go/observe"
	"github.com/namewise/runwatch-go/types"
)

// API is the slice of the backend client this service depends on.
type API interface {
	ListCandidates(ctx context.Context, runID string, query api.ListQuery) ([]*types.Candidate, error)
	PatchCandidate(ctx context.Context, candidateID string, patch api.CandidatePatch) (*types.Candidate, error)
	TriggerClearance(ctx context.Context, runID string) error
}

const cacheScope = "candidates"

// CacheKey maps a list query onto its cache key.
func CacheKey(runID string, query api.ListQuery) cache.Key {
	return cache.Key{
		Scope:  cacheScope,
		RunID:  runID,
		Filter: query.Filter,
		Sort:   query.Sort,
		Page:   query.Page,
	}
}

// NewStore builds a candidate cache with the entity hooks wired.
func NewStore() *cache.Store[*types.Candidate] {
	store, err := cache.NewStore(cache.Config[*types.Candidate]{
		ID:    func(c *types.Candidate) string { return c.ID },
		Clone: func(c *types.Candidate) *types.Candidate { return c.Clone() },
	})
	if err != nil {
		// The hooks above are statically non-nil.
		panic(err)
	}
	return store
}

type Service struct {
	api   API
	store *cache.Store[*types.Candidate]
	sink  observe.Sink
}

type Option func(*Service)

// WithStore shares an externally owned cache instead of a private one.
func WithStore(store *cache.Store[*types.Candidate]) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

func WithSink(sink observe.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func NewService(client API, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("candidates: api client is required")
	}
	s := &Service{
		api:   client,
		store: NewStore(),
		sink:  observe.NoopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Store() *cache.Store[*types.Candidate] {
	return s.store
}

// Cached returns the locally cached result for a query without touching the
// network.
func (s *Service) Cached(runID string, query api.ListQuery) ([]*types.Candidate, bool) {
	return s.store.Get(CacheKey(runID, query))
}

// Refresh fetches one page authoritatively, caches it under its own key, and
// folds authority-owned fields into every other cached view of the run.
func (s *Service) Refresh(ctx context.Context, runID string, query api.ListQuery) ([]*types.Candidate, error) {
	fresh, err := s.api.ListCandidates(ctx, runID, query)
	if err != nil {
		return nil, err
	}
	key := CacheKey(runID, query)
	s.store.Put(key, fresh)
	merged := s.store.ReconcileAuthoritative(cache.ForRun(runID), key, fresh, mergeAuthority)
	s.emitMerge(runID, "", merged)
	return fresh, nil
}

// Edit applies a candidate mutation optimistically, confirms it against the
// backend, and either propagates the confirmed entity or rolls the
// optimistic state back verbatim.
func (s *Service) Edit(ctx context.Context, runID, candidateID string, patch api.CandidatePatch) (*types.Candidate, error) {
	rollback := s.store.ApplyOptimistic(cache.ForRun(runID), candidateID, func(c *types.Candidate) *types.Candidate {
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.Notes != nil {
			c.Notes = *patch.Notes
		}
		if patch.Shortlisted != nil {
			c.Shortlisted = *patch.Shortlisted
		}
		return c
	})
	confirmed, err := s.api.PatchCandidate(ctx, candidateID, patch)
	if err != nil {
		rollback.Restore()
		return nil, err
	}
	merged := s.store.MergeAuthoritative(cache.ForRun(runID), confirmed)
	s.emitMerge(runID, candidateID, merged)
	return confirmed, nil
}

// ApplyClearanceUpdate folds one push-delivered clearance result into every
// cached view of its run. Updates for runs with no cached views fall through
// harmlessly; the next refresh carries the same data.
func (s *Service) ApplyClearanceUpdate(_ context.Context, update *event.ClearanceUpdate) {
	if update == nil {
		return
	}
	record := update.Value
	merged := s.store.MergeEntity(cache.ForRun(update.RunID), update.CandidateID, func(c *types.Candidate) *types.Candidate {
		rec := record
		c.Clearance.SetRecord(update.Dimension, &rec)
		return c
	})
	s.emitMerge(update.RunID, update.CandidateID, merged)
}

// TriggerClearance starts clearance checks for a run and drops the run's
// cached views, since every candidate's clearance is about to churn.
func (s *Service) TriggerClearance(ctx context.Context, runID string) error {
	if err := s.api.TriggerClearance(ctx, runID); err != nil {
		return err
	}
	s.store.Invalidate(cache.ForRun(runID))
	return nil
}

func (s *Service) emitMerge(runID, candidateID string, merged int) {
	if merged == 0 {
		return
	}
	_ = s.sink.Emit(context.Background(), observe.Event{
		Kind:        observe.KindCache,
		Status:      observe.StatusCompleted,
		Name:        observe.NameCacheMerge,
		RunID:       runID,
		CandidateID: candidateID,
		Attributes: map[string]any{
			"merged": merged,
		},
	})
}

// mergeAuthority folds the authority-owned fields of a fresh entity into a
// cached one: status, rank, shortlist flag, update timestamp, and clearance.
// Locally edited fields (name, notes) keep their cached values until a
// confirmation replaces the whole entity.
func mergeAuthority(cached, fresh *types.Candidate) (*types.Candidate, bool) {
	if cached.Status == fresh.Status &&
		cached.Rank == fresh.Rank &&
		cached.Shortlisted == fresh.Shortlisted &&
		timePtrEqual(cached.UpdatedAt, fresh.UpdatedAt) &&
		reflect.DeepEqual(cached.Clearance, fresh.Clearance) {
		return cached, false
	}
	out := cached
	out.Status = fresh.Status
	out.Rank = fresh.Rank
	out.Shortlisted = fresh.Shortlisted
	if fresh.UpdatedAt != nil {
		at := *fresh.UpdatedAt
		out.UpdatedAt = &at
	} else {
		out.UpdatedAt = nil
	}
	out.Clearance = fresh.Clone().Clearance
	return out, true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
