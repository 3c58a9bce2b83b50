package gate

// recentSet is a FIFO-bounded exact set of keys marked during the gate's lifetime.
// Not safe for concurrent use; the gate guards it with its mutex.
type recentSet struct {
	keys  map[string]struct{}
	ring  []string
	next  int
	limit int
}

func newRecentSet(limit int) *recentSet {
	return &recentSet{keys: make(map[string]struct{}), limit: limit}
}

func (s *recentSet) has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *recentSet) add(key string) {
	if s.limit <= 0 || s.has(key) {
		return
	}
	if len(s.ring) < s.limit {
		s.ring = append(s.ring, key)
		s.keys[key] = struct{}{}
		return
	}
	delete(s.keys, s.ring[s.next])
	s.ring[s.next] = key
	s.keys[key] = struct{}{}
	s.next = (s.next + 1) % s.limit
}

func (s *recentSet) len() int { return len(s.ring) }

// each visits keys oldest first.
func (s *recentSet) each(fn func(string)) {
	for i := range s.ring {
		fn(s.ring[(s.next+i)%len(s.ring)])
	}
}
