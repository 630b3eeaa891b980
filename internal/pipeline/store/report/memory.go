package report

import (
	"context"
	"sync"

	"mismobridge/internal/pipeline/models"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/sentinel"
)

// InMemory keeps reports in process memory.
type InMemory struct {
	mu      sync.RWMutex
	reports map[id.ReportID]*models.StoredReport
}

func NewInMemory() *InMemory {
	return &InMemory{reports: make(map[id.ReportID]*models.StoredReport)}
}

func (s *InMemory) Save(_ context.Context, r *models.StoredReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, reportID id.ReportID) (*models.StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListByRun returns the reports of one run.
func (s *InMemory) ListByRun(_ context.Context, runID id.RunID) ([]*models.StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.StoredReport
	for _, r := range s.reports {
		if r.RunID == runID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
