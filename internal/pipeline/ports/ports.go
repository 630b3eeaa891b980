// Package ports declares what the pipeline service needs from the outside:
// report and quarantine persistence, audit publishing and the downstream
// record sink.
package ports

import (
	"context"

	"mismobridge/internal/canonical"
	"mismobridge/internal/pipeline/models"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/audit"
)

// ReportStore persists conformance reports. FindByID returns
// sentinel.ErrNotFound for unknown ids.
type ReportStore interface {
	Save(ctx context.Context, r *models.StoredReport) error
	FindByID(ctx context.Context, reportID id.ReportID) (*models.StoredReport, error)
}

// QuarantineStore holds documents that could not be routed to a pack.
// FindByID returns sentinel.ErrNotFound for unknown or expired ids.
type QuarantineStore interface {
	Save(ctx context.Context, q *models.Quarantine) error
	FindByID(ctx context.Context, quarantineID id.QuarantineID) (*models.Quarantine, error)
}

// AuditPublisher records pipeline runs.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RecordSink receives canonical records from imports that did not fail.
type RecordSink interface {
	Write(ctx context.Context, runID id.RunID, packID string, rec canonical.Record) error
}
