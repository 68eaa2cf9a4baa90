package gate

import "sync"

// scopeLocks serializes canonization runs per scope. Disjoint scopes run
// concurrently; two runs over the same scope queue behind one mutex.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the named scope, creating its mutex on first use.
// Mutexes are never removed: the scope universe is small and stable.
func (s *scopeLocks) acquire(scope string) *sync.Mutex {
	s.mu.Lock()
	m, ok := s.locks[scope]
	if !ok {
		m = &sync.Mutex{}
		s.locks[scope] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m
}
