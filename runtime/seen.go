package runtime

import "sync"

// seenSet remembers the last N message ids. Oldest ids are evicted first.
type seenSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	max   int
}

func newSeenSet(max int) *seenSet {
	if max <= 0 {
		max = 1
	}
	return &seenSet{ids: make(map[string]struct{}, max), max: max}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.max {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, evict)
	}
	return true
}
