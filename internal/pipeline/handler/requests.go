package handler

import (
	"strings"
	"time"

	"mismobridge/internal/canonical"
	"mismobridge/internal/pipeline/models"
	dErrors "mismobridge/pkg/domain-errors"
)

// MaxHarnessTimeout bounds the deadline a caller may request.
const MaxHarnessTimeout = 5 * time.Minute

// TargetFields selects a pack by id or by configured mode.
type TargetFields struct {
	Mode   string `json:"mode,omitempty"`
	PackID string `json:"pack_id,omitempty"`
}

func (t TargetFields) target() models.Target {
	return models.Target{Mode: strings.TrimSpace(t.Mode), PackID: strings.TrimSpace(t.PackID)}
}

// ExportRequest is the body of POST /v1/export.
type ExportRequest struct {
	TargetFields
	Record        *canonical.Record `json:"record"`
	SkipPreflight bool              `json:"skip_preflight,omitempty"`
}

func (r *ExportRequest) Validate() error {
	if r.Record == nil {
		return dErrors.New(dErrors.CodeBadRequest, "record is required")
	}
	return nil
}

// ImportRequest is the body of POST /v1/import. Omitting both mode and
// pack_id selects auto detection.
type ImportRequest struct {
	TargetFields
	Document string `json:"document"`
}

func (r *ImportRequest) Validate() error {
	if strings.TrimSpace(r.Document) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "document is required")
	}
	return nil
}

// AutoDetect reports whether the request leaves pack selection to the
// document header.
func (r *ImportRequest) AutoDetect() bool {
	t := r.target()
	return t.Mode == "" && t.PackID == ""
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	TargetFields
	Document string `json:"document"`
}

func (r *ValidateRequest) Validate() error {
	if strings.TrimSpace(r.Document) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "document is required")
	}
	return nil
}

// PreflightRequest is the body of POST /v1/preflight.
type PreflightRequest struct {
	TargetFields
	Record *canonical.Record `json:"record"`
}

func (r *PreflightRequest) Validate() error {
	if r.Record == nil {
		return dErrors.New(dErrors.CodeBadRequest, "record is required")
	}
	return nil
}

// HarnessRequest is the body of POST /v1/harness.
type HarnessRequest struct {
	TargetFields
	Cases     int    `json:"cases"`
	Seed      uint64 `json:"seed"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

func (r *HarnessRequest) Validate() error {
	if r.Cases <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "cases must be positive")
	}
	if r.TimeoutMS < 0 || time.Duration(r.TimeoutMS)*time.Millisecond > MaxHarnessTimeout {
		return dErrors.New(dErrors.CodeBadRequest, "timeout_ms must be between 0 and 300000")
	}
	return nil
}

// Timeout returns the requested deadline.
func (r *HarnessRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}
