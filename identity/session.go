package identity

import (
	"context"
	"sync"
)

// ActiveSession holds the in-memory session for one role slot (client,
// designer or admin). The application sets it at login and clears it at
// logout; as a Provider it is tried before any persisted snapshot.
type ActiveSession struct {
	mu sync.RWMutex
	id *Identity
}

// NewActiveSession creates an empty session slot.
func NewActiveSession() *ActiveSession {
	return &ActiveSession{}
}

// Set installs the current identity for this slot.
func (s *ActiveSession) Set(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = &id
}

// Clear removes the identity.
func (s *ActiveSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = nil
}

// Resolve implements Provider.
func (s *ActiveSession) Resolve(_ context.Context) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == nil {
		return nil, nil
	}
	id := *s.id
	return &id, nil
}
