package audit

import (
	"context"
	"time"

	id "mismobridge/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// Sinks may route or retain categories differently.
type EventCategory string

const (
	// CategoryCompliance covers runs that produced or consumed a loan record:
	// exports, imports and quarantines.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers read-only runs: validation, preflight and
	// harness batches.
	CategoryOperations EventCategory = "operations"
)

// Event records one pipeline run. It never carries field values; only pack
// ids, hashes, counts and statuses.
type Event struct {
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	RunID       id.RunID      `json:"run_id"`
	Action      string        `json:"action"`
	PackID      string        `json:"pack_id,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	Status      string        `json:"status,omitempty"`
	Errors      int           `json:"errors"`
	Warnings    int           `json:"warnings"`
	Unmapped    int           `json:"unmapped"`
	RequestID   string        `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	EventExportCompleted     AuditEvent = "export_completed"
	EventExportBlocked       AuditEvent = "export_blocked"
	EventImportCompleted     AuditEvent = "import_completed"
	EventImportQuarantined   AuditEvent = "import_quarantined"
	EventValidationCompleted AuditEvent = "validation_completed"
	EventPreflightCompleted  AuditEvent = "preflight_completed"
	EventHarnessCompleted    AuditEvent = "harness_completed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventExportCompleted:     CategoryCompliance,
	EventExportBlocked:       CategoryCompliance,
	EventImportCompleted:     CategoryCompliance,
	EventImportQuarantined:   CategoryCompliance,
	EventValidationCompleted: CategoryOperations,
	EventPreflightCompleted:  CategoryOperations,
	EventHarnessCompleted:    CategoryOperations,
}

// Category returns the category for an action. Unknown actions are
// operational.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister reads back the events of one run.
type Lister interface {
	ListByRun(ctx context.Context, runID id.RunID) ([]Event, error)
}
