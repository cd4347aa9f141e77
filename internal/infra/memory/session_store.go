package memory

import (
	"sync"

	"training-sync-service/internal/domain"
)

// SessionStore is the in-process session map. It lives for the whole process
// and every mutation replaces a full record under the lock, so readers never
// observe a half-updated session.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
	}
}

// Get returns a copy of the record for code.
func (s *SessionStore) Get(code string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.Session{}, false
	}
	return session.Clone(), true
}

// Put replaces the record for session.Code.
func (s *SessionStore) Put(session domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Code] = session.Clone()
}

// Update runs fn on a snapshot of the current record (ok is false when none
// exists) and stores whatever fn returns. fn must not block.
func (s *SessionStore) Update(code string, fn func(current domain.Session, ok bool) domain.Session) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[code]
	if ok {
		current = current.Clone()
	}
	next := fn(current, ok)
	next.Code = code
	s.sessions[code] = next.Clone()
	return next.Clone()
}

// PutIfAbsent stores session unless a record already exists, and returns the
// record that ends up stored.
func (s *SessionStore) PutIfAbsent(session domain.Session) domain.Session {
	return s.Update(session.Code, func(current domain.Session, ok bool) domain.Session {
		if ok {
			return current
		}
		return session
	})
}

// Clear drops every record.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]domain.Session)
}

// Len reports how many sessions are held.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
