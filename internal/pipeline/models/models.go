// Package models holds the request and result types of the pipeline entry
// points, plus the persisted report and quarantine records.
package models

import (
	"time"

	"mismobridge/internal/canonical"
	"mismobridge/internal/importer"
	"mismobridge/internal/report"
	id "mismobridge/pkg/domain"
)

// RunKind names the entry point that produced a report.
type RunKind string

const (
	RunPreflight RunKind = "preflight"
	RunExport    RunKind = "export"
	RunImport    RunKind = "import"
	RunValidate  RunKind = "validate"
)

// Target selects a pack. An explicit PackID wins over Mode; with neither
// set the configured default mode applies.
type Target struct {
	Mode   string
	PackID string
}

// ExportRequest asks for a record to be rendered as a document.
type ExportRequest struct {
	Target
	Record        canonical.Record
	SkipPreflight bool
}

// ExportResult is one export run. Document is nil when preflight blocked
// the export.
type ExportResult struct {
	RunID       id.RunID
	PackID      string
	Blocked     bool
	Document    []byte
	ContentHash string
	Preflight   *report.Report
	Report      *report.Report
}

// ImportRequest asks for a document to be mapped into a canonical record.
// AutoDetect ignores Target and selects the pack from the document header.
type ImportRequest struct {
	Target
	Document   []byte
	AutoDetect bool
}

// ImportResult is one import run. DetectedPackID is empty when auto
// detection failed, in which case QuarantineID is set and Record is empty.
type ImportResult struct {
	RunID          id.RunID
	PackID         string
	DetectedPackID string
	Record         canonical.Record
	Unmapped       []importer.UnmappedNode
	Report         *report.Report
	QuarantineID   id.QuarantineID
	Quarantined    bool
	SinkWritten    bool
}

// ValidateRequest checks a document without mapping it. With no pack
// selected the document header decides.
type ValidateRequest struct {
	Target
	Document []byte
}

// PreflightRequest runs the rules engine over a record.
type PreflightRequest struct {
	Target
	Record canonical.Record
}

// StoredReport is a report persisted by a run.
type StoredReport struct {
	ID        id.ReportID
	RunID     id.RunID
	RunKind   RunKind
	PackID    string
	Status    report.Status
	Report    *report.Report
	CreatedAt time.Time
}

// Quarantine holds a document whose pack could not be determined. Raw is
// kept verbatim so an operator can replay it under an explicit pack.
type Quarantine struct {
	ID        id.QuarantineID         `json:"id"`
	RunID     id.RunID                `json:"run_id"`
	Reason    string                  `json:"reason"`
	Raw       []byte                  `json:"raw"`
	Unmapped  []importer.UnmappedNode `json:"unmapped"`
	CreatedAt time.Time               `json:"created_at"`
}

// HarnessRequest asks for a round-trip regression run. A zero Timeout runs
// every case.
type HarnessRequest struct {
	Target
	Cases   int
	Seed    uint64
	Timeout time.Duration
}
