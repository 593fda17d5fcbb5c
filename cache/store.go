// Package cache implements a predicate-addressable multi-query result cache
// with the reconciliation operations the candidate views depend on:
// optimistic apply, rollback, authoritative merge, out-of-band merge, and
// bulk reconciliation from polling.
package cache

import (
	"fmt"
	"reflect"
	"sync"
)

// Key identifies one cached query result. It is a structured tuple so
// predicates can address results without parsing string encodings.
type Key struct {
	Scope  string
	RunID  string
	Filter string
	Sort   string
	Page   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s?filter=%s&sort=%s&page=%d", k.Scope, k.RunID, k.Filter, k.Sort, k.Page)
}

// ForRun matches every query scoped to one run.
func ForRun(runID string) func(Key) bool {
	return func(k Key) bool { return k.RunID == runID }
}

// Config wires the entity hooks a store needs. Equal defaults to deep value
// comparison, since independent fetches produce independent object graphs
// for logically identical data.
type Config[T any] struct {
	ID    func(T) string
	Clone func(T) T
	Equal func(a, b T) bool
}

// Store is a keyed cache of query results. All operations are atomic
// read-modify-write steps under one mutex.
type Store[T any] struct {
	cfg     Config[T]
	mu      sync.Mutex
	entries map[Key][]T
}

func NewStore[T any](cfg Config[T]) (*Store[T], error) {
	if cfg.ID == nil {
		return nil, fmt.Errorf("cache: ID hook is required")
	}
	if cfg.Clone == nil {
		return nil, fmt.Errorf("cache: Clone hook is required")
	}
	if cfg.Equal == nil {
		cfg.Equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return &Store[T]{cfg: cfg, entries: map[Key][]T{}}, nil
}

// Put stores a query result under its key, replacing any previous value.
func (s *Store[T]) Put(key Key, result []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]T(nil), result...)
}

// Get returns the cached result for a key. The returned slice is a copy;
// its entries are shared with the cache.
func (s *Store[T]) Get(key Key) ([]T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return append([]T(nil), result...), true
}

// Keys returns every cached key matching the predicate.
func (s *Store[T]) Keys(pred func(Key) bool) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		if pred == nil || pred(key) {
			out = append(out, key)
		}
	}
	return out
}

// Invalidate drops every cached result matching the predicate and reports
// how many were dropped.
func (s *Store[T]) Invalidate(pred func(Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key := range s.entries {
		if pred == nil || pred(key) {
			delete(s.entries, key)
			dropped++
		}
	}
	return dropped
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// replaceAt builds a new slice sharing every entry except index i, which is
// replaced. Untouched entries stay identical for referential stability.
func replaceAt[T any](result []T, i int, v T) []T {
	next := append([]T(nil), result...)
	next[i] = v
	return next
}

func (s *Store[T]) indexOf(result []T, id string) int {
	for i, entry := range result {
		if s.cfg.ID(entry) == id {
			return i
		}
	}
	return -1
}
