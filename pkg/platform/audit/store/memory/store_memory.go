package memory

import (
	"context"
	"sync"

	id "grouplock/pkg/domain"
	audit "grouplock/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.GroupID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.GroupID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.GroupID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.GroupID] = append(s.events[event.GroupID], event)
	return nil
}

func (s *InMemoryStore) ListByGroup(_ context.Context, groupID id.GroupID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[groupID]...), nil
}

// ListAll returns all audit events across all groups (admin-only operation).
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allEvents []audit.Event
	for _, groupEvents := range s.events {
		allEvents = append(allEvents, groupEvents...)
	}

	return allEvents, nil
}
