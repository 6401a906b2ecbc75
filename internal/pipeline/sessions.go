package pipeline

import (
	"context"
	"sync"

	"insightxr/internal/asset"
)

// Sessions keeps one orchestrator per authenticated user so that each UI
// session owns exactly one active asset.
type Sessions struct {
	mu      sync.RWMutex
	byUser  map[string]*Orchestrator
	factory func(owner string) *Orchestrator
}

func NewSessions(factory func(owner string) *Orchestrator) *Sessions {
	return &Sessions{byUser: make(map[string]*Orchestrator), factory: factory}
}

// For returns the caller's orchestrator, creating it on first use.
func (s *Sessions) For(auth asset.AuthContext) (*Orchestrator, error) {
	if !auth.Authenticated() {
		return nil, asset.Validation("session", asset.ErrUnauthenticated)
	}
	s.mu.RLock()
	o, ok := s.byUser[auth.UserID]
	s.mu.RUnlock()
	if ok {
		return o, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.byUser[auth.UserID]; ok {
		return o, nil
	}
	o = s.factory(auth.UserID)
	s.byUser[auth.UserID] = o
	return o, nil
}

// Lookup returns the user's orchestrator without creating one.
func (s *Sessions) Lookup(userID string) (*Orchestrator, bool) {
	s.mu.RLock()
	o, ok := s.byUser[userID]
	s.mu.RUnlock()
	return o, ok
}

// WaitAll waits for in-flight operations of every session.
func (s *Sessions) WaitAll(ctx context.Context) bool {
	s.mu.RLock()
	all := make([]*Orchestrator, 0, len(s.byUser))
	for _, o := range s.byUser {
		all = append(all, o)
	}
	s.mu.RUnlock()

	for _, o := range all {
		if !o.WaitAll(ctx) {
			return false
		}
	}
	return true
}
