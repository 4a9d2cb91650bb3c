package realtime

import "sync"

// Registry maps each connected identity to its one live session.
type Registry interface {
	// Register makes `s` the session of its identity and returns the session it replaced, if any.
	Register(s *Session) (displaced *Session)
	// Unregister removes `s` only if it is still the registered session of its identity.
	Unregister(s *Session) bool
	Get(identityID string) (*Session, bool)
	Sessions() []*Session
	Len() int
}

type memoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Registry = (*memoryRegistry)(nil) // interface compliance check

func NewRegistry() Registry {
	return &memoryRegistry{sessions: make(map[string]*Session)}
}

func (reg *memoryRegistry) Register(s *Session) *Session {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	displaced := reg.sessions[s.Identity.ID]
	reg.sessions[s.Identity.ID] = s
	if displaced == s {
		return nil
	}
	return displaced
}

func (reg *memoryRegistry) Unregister(s *Session) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if curr, ok := reg.sessions[s.Identity.ID]; ok && curr == s {
		delete(reg.sessions, s.Identity.ID)
		return true
	}
	return false
}

func (reg *memoryRegistry) Get(identityID string) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	s, ok := reg.sessions[identityID]
	return s, ok
}

func (reg *memoryRegistry) Sessions() []*Session {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	sessions := make([]*Session, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (reg *memoryRegistry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}
