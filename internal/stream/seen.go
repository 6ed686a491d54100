package stream

// SeenSet is a bounded, insertion-ordered id set used for per-connection
// de-duplication. When the cap is exceeded the oldest half is evicted, which
// keeps memory flat over a long-lived connection while retaining enough
// history to absorb backlog replays.
type SeenSet struct {
	cap   int
	ids   map[string]struct{}
	order []string
}

func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 1000
	}
	return &SeenSet{
		cap: capacity,
		ids: make(map[string]struct{}),
	}
}

// Add records the id and reports whether it was new.
func (s *SeenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}

	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) > s.cap {
		evict := s.order[:len(s.order)/2]
		for _, old := range evict {
			delete(s.ids, old)
		}
		s.order = append([]string(nil), s.order[len(evict):]...)
	}
	return true
}

func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *SeenSet) Len() int {
	return len(s.ids)
}
