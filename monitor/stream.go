package monitor

import "sync"

// statusStream fans StatusView updates out to subscribers. Slow watchers
// drop updates instead of blocking the state machine; every update carries
// the full view, so a dropped one is superseded by the next.
type statusStream struct {
	mu       sync.RWMutex
	nextID   int
	watchers map[int]chan StatusView
}

func newStatusStream() *statusStream {
	return &statusStream{watchers: map[int]chan StatusView{}}
}

func (s *statusStream) subscribe(buffer int) (int, <-chan StatusView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buffer <= 0 {
		buffer = 16
	}
	id := s.nextID
	s.nextID++
	ch := make(chan StatusView, buffer)
	s.watchers[id] = ch
	return id, ch
}

func (s *statusStream) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(ch)
	}
}

func (s *statusStream) publish(view StatusView) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- view:
		default:
		}
	}
}

func (s *statusStream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}
