package quarantine

import (
	"context"
	"slices"
	"sync"
	"time"

	"mismobridge/internal/pipeline/models"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/sentinel"
)

// InMemory keeps quarantined documents in process memory. Entries older
// than the TTL are treated as absent.
type InMemory struct {
	mu      sync.RWMutex
	entries map[id.QuarantineID]*models.Quarantine
	order   []id.QuarantineID
	ttl     time.Duration
	now     func() time.Time
}

func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{
		entries: make(map[id.QuarantineID]*models.Quarantine),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemory) Save(_ context.Context, q *models.Quarantine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[q.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *q
	cp.Raw = slices.Clone(q.Raw)
	cp.Unmapped = slices.Clone(q.Unmapped)
	s.entries[q.ID] = &cp
	s.order = append(s.order, q.ID)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, quarantineID id.QuarantineID) (*models.Quarantine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.entries[quarantineID]
	if !ok || s.expired(q) {
		return nil, sentinel.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

// ListRecent returns up to limit live entries, newest first.
func (s *InMemory) ListRecent(_ context.Context, limit int) ([]*models.Quarantine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Quarantine
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		q := s.entries[s.order[i]]
		if s.expired(q) {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) expired(q *models.Quarantine) bool {
	return s.ttl > 0 && s.now().Sub(q.CreatedAt) > s.ttl
}
