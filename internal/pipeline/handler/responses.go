package handler

import (
	"mismobridge/internal/canonical"
	"mismobridge/internal/harness"
	"mismobridge/internal/importer"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/report"
)

// ExportResponse is returned by POST /v1/export.
type ExportResponse struct {
	RunID       string         `json:"run_id"`
	PackID      string         `json:"pack_id"`
	Blocked     bool           `json:"blocked"`
	Document    *string        `json:"document"`
	ContentHash string         `json:"content_hash,omitempty"`
	Report      *report.Report `json:"conformance_report"`
	Preflight   *report.Report `json:"preflight_report,omitempty"`
}

func FromExportResult(res *models.ExportResult) *ExportResponse {
	out := &ExportResponse{
		RunID:       res.RunID.String(),
		PackID:      res.PackID,
		Blocked:     res.Blocked,
		ContentHash: res.ContentHash,
		Report:      res.Report,
		Preflight:   res.Preflight,
	}
	if res.Document != nil {
		doc := string(res.Document)
		out.Document = &doc
	}
	return out
}

// ImportResponse is returned by POST /v1/import. DetectedPackID is null
// unless auto detection selected a pack.
type ImportResponse struct {
	RunID          string                  `json:"run_id"`
	PackID         string                  `json:"pack_id,omitempty"`
	DetectedPackID *string                 `json:"detected_pack_id"`
	Record         canonical.Record        `json:"canonical_record"`
	Unmapped       []importer.UnmappedNode `json:"unmapped_nodes"`
	Report         *report.Report          `json:"conformance_report"`
	QuarantineID   string                  `json:"quarantine_id,omitempty"`
	SinkWritten    bool                    `json:"sink_written"`
}

func FromImportResult(res *models.ImportResult) *ImportResponse {
	out := &ImportResponse{
		RunID:       res.RunID.String(),
		PackID:      res.PackID,
		Record:      res.Record,
		Unmapped:    res.Unmapped,
		Report:      res.Report,
		SinkWritten: res.SinkWritten,
	}
	if out.Unmapped == nil {
		out.Unmapped = []importer.UnmappedNode{}
	}
	if res.DetectedPackID != "" {
		detected := res.DetectedPackID
		out.DetectedPackID = &detected
	}
	if res.Quarantined {
		out.QuarantineID = res.QuarantineID.String()
	}
	return out
}

// StoredReportResponse is returned by GET /v1/reports/{id}.
type StoredReportResponse struct {
	RunID   string         `json:"run_id"`
	RunKind string         `json:"run_kind"`
	Report  *report.Report `json:"conformance_report"`
}

func FromStoredReport(r *models.StoredReport) *StoredReportResponse {
	return &StoredReportResponse{RunID: r.RunID.String(), RunKind: string(r.RunKind), Report: r.Report}
}

// HarnessResponse is returned by POST /v1/harness.
type HarnessResponse struct {
	*harness.Summary
	MinCoverage float64 `json:"min_coverage"`
}

func FromSummary(s *harness.Summary) *HarnessResponse {
	return &HarnessResponse{Summary: s, MinCoverage: s.MinCoverage()}
}

// EnumResponse is returned by GET /v1/packs/{id}/enums/{name}.
type EnumResponse struct {
	PackID string   `json:"pack_id"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}
