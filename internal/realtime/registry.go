package realtime

import "sync"

// sessionRegistry indexes live sessions by user and by id. The latest session of a user wins.
// Its lock is never held while a room lock is held.
type sessionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
	byID   map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byUser: make(map[string]*Session),
		byID:   make(map[string]*Session),
	}
}

// register makes s the user's current session and returns the session it replaced, if any.
func (r *sessionRegistry) register(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[s.UserID()]
	if prev != nil {
		delete(r.byID, prev.ID)
	}
	r.byUser[s.UserID()] = s
	r.byID[s.ID] = s
	return prev
}

// remove purges s. The user index is only cleared if s is still the user's current session.
func (r *sessionRegistry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, s.ID)
	if r.byUser[s.UserID()] == s {
		delete(r.byUser, s.UserID())
	}
}

func (r *sessionRegistry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		list = append(list, s)
	}
	return list
}

func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
