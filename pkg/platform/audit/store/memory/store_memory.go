package memory

import (
	"context"
	"slices"
	"sync"

	id "mismobridge/pkg/domain"
	audit "mismobridge/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.RunID][]audit.Event
	order  []id.RunID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.RunID][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.RunID]; !ok {
		s.order = append(s.order, event.RunID)
	}
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

func (s *InMemoryStore) ListByRun(_ context.Context, runID id.RunID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[runID]), nil
}

// ListRecent returns up to limit events from the most recently seen runs,
// oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, run := range s.order {
		all = append(all, s.events[run]...)
	}
	start := max(len(all)-limit, 0)
	return all[start:], nil
}
