package cache

// Rollback records the query results an optimistic apply replaced, so a
// failed mutation can restore them verbatim. Restoring twice, or restoring
// an empty rollback, is a no-op.
type Rollback[T any] struct {
	store *Store[T]
	saved []savedResult[T]
}

type savedResult[T any] struct {
	key    Key
	result []T
}

// Empty reports whether the optimistic apply changed anything.
func (r *Rollback[T]) Empty() bool {
	return r == nil || len(r.saved) == 0
}

// Restore puts every recorded (key, previous value) pair back verbatim.
func (r *Rollback[T]) Restore() {
	if r == nil || r.store == nil {
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, prev := range r.saved {
		r.store.entries[prev.key] = prev.result
	}
}

// ApplyOptimistic patches the entity in every matching cached result. A
// result is only replaced when the patch observably changes the entity, and
// the previous full result is recorded for rollback.
func (s *Store[T]) ApplyOptimistic(pred func(Key) bool, id string, patch func(T) T) *Rollback[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	rollback := &Rollback[T]{store: s}
	for key, result := range s.entries {
		if pred != nil && !pred(key) {
			continue
		}
		i := s.indexOf(result, id)
		if i < 0 {
			continue
		}
		patched := patch(s.cfg.Clone(result[i]))
		if s.cfg.Equal(patched, result[i]) {
			continue
		}
		rollback.saved = append(rollback.saved, savedResult[T]{key: key, result: result})
		s.entries[key] = replaceAt(result, i, patched)
	}
	return rollback
}

// MergeAuthoritative propagates a server-confirmed entity into every
// matching cached result containing its id, superseding any optimistic
// state. Reports how many results were updated.
func (s *Store[T]) MergeAuthoritative(pred func(Key) bool, confirmed T) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cfg.ID(confirmed)
	merged := 0
	for key, result := range s.entries {
		if pred != nil && !pred(key) {
			continue
		}
		i := s.indexOf(result, id)
		if i < 0 {
			continue
		}
		if s.cfg.Equal(result[i], confirmed) {
			continue
		}
		s.entries[key] = replaceAt(result, i, s.cfg.Clone(confirmed))
		merged++
	}
	return merged
}

// MergeEntity applies an out-of-band patch to the entity in every matching
// cached result, with no rollback bookkeeping. Results not containing the
// entity are left untouched.
func (s *Store[T]) MergeEntity(pred func(Key) bool, id string, apply func(T) T) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := 0
	for key, result := range s.entries {
		if pred != nil && !pred(key) {
			continue
		}
		i := s.indexOf(result, id)
		if i < 0 {
			continue
		}
		patched := apply(s.cfg.Clone(result[i]))
		if s.cfg.Equal(patched, result[i]) {
			continue
		}
		s.entries[key] = replaceAt(result, i, patched)
		merged++
	}
	return merged
}

// ReconcileAuthoritative folds a freshly fetched authoritative list into
// every matching cached result except the one the poll itself populated.
// merge compares authority-owned fields and returns the merged entity plus
// whether anything differed; unchanged entities keep their cached copies.
func (s *Store[T]) ReconcileAuthoritative(pred func(Key) bool, source Key, fresh []T, merge func(cached, fresh T) (T, bool)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := 0
	for key, result := range s.entries {
		if key == source {
			continue
		}
		if pred != nil && !pred(key) {
			continue
		}
		next := result
		for _, authoritative := range fresh {
			i := s.indexOf(next, s.cfg.ID(authoritative))
			if i < 0 {
				continue
			}
			merged, changed := merge(s.cfg.Clone(next[i]), authoritative)
			if !changed {
				continue
			}
			next = replaceAt(next, i, merged)
			replaced++
		}
		s.entries[key] = next
	}
	return replaced
}
