// Package report builds conformance reports: categorized errors and
// warnings, a derived status, and mandatory PII redaction.
package report

import (
	"time"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusPass             Status = "PASS"
	StatusPassWithWarnings Status = "PASS_WITH_WARNINGS"
	StatusFail             Status = "FAIL"
)

// Category groups issues by the layer that found them.
type Category string

const (
	CategoryWellFormed  Category = "well-formedness"
	CategoryRequired    Category = "required"
	CategoryEnum        Category = "enum"
	CategoryDatatype    Category = "datatype"
	CategoryConditional Category = "conditional"
	CategoryStructure   Category = "structure"
	CategoryMapping     Category = "mapping"
	CategoryPack        Category = "pack"
)

// Issue codes.
const (
	CodeMissingElement      = "MISSING_ELEMENT"
	CodeInvalidEnum         = "INVALID_ENUM"
	CodeInvalidFormat       = "INVALID_FORMAT"
	CodeInvalidReference    = "INVALID_REFERENCE"
	CodeConditionalRequired = "CONDITIONAL_REQUIRED"
	CodeConditionalForbid   = "CONDITIONAL_FORBIDDEN"
	CodeUnmappedField       = "UNMAPPED_FIELD"
	CodeMalformedDocument   = "MALFORMED_DOCUMENT"
	CodeUnexpectedRoot      = "UNEXPECTED_ROOT"
	CodeUnexpectedElement   = "UNEXPECTED_ELEMENT"
	CodeUnexpectedText      = "UNEXPECTED_TEXT"
	CodeOutOfOrder          = "OUT_OF_ORDER"
	CodeCardinality         = "CARDINALITY"
	CodeDuplicateLabel      = "DUPLICATE_LABEL"
	CodeDanglingReference   = "DANGLING_REFERENCE"
	CodePackMismatch        = "PACK_MISMATCH"
	CodePackNotDetected     = "PACK_NOT_DETECTED"
	CodeMappingGap          = "MAPPING_GAP"
	CodeCompanionMismatch   = "COMPANION_MISMATCH"
	CodeExtensionAhead      = "EXTENSION_VERSION_AHEAD"
)

// Issue is one finding. Path uses record field paths for preflight findings
// and element paths for document findings.
type Issue struct {
	Category Category `json:"category"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
	Allowed  []string `json:"allowed,omitempty"`
}

// PackInfo identifies the pack a report was produced against.
type PackInfo struct {
	PackID          string `json:"pack_id"`
	StandardVersion string `json:"standard_version"`
	BuildIdentifier string `json:"build_identifier"`
	ContentHash     string `json:"content_hash,omitempty"`
}

// Summary counts issues.
type Summary struct {
	TotalErrors   int              `json:"total_errors"`
	TotalWarnings int              `json:"total_warnings"`
	ByCategory    map[Category]int `json:"by_category"`
}

// Metadata describes how the report was produced.
type Metadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	PIIRedacted bool      `json:"pii_redacted"`
}

// Report is the conformance report for one run.
type Report struct {
	ID       string   `json:"report_id,omitempty"`
	RunKind  string   `json:"run_kind,omitempty"`
	Status   Status   `json:"status"`
	Pack     PackInfo `json:"pack_info"`
	Summary  Summary  `json:"summary"`
	Errors   []Issue  `json:"errors"`
	Warnings []Issue  `json:"warnings"`
	Metadata Metadata `json:"metadata"`
}

// Build assembles a redacted report. Status is derived from the issue
// lists and nothing else.
func Build(errs, warns []Issue, pack PackInfo, at time.Time) *Report {
	r := &Report{
		Pack:     pack,
		Errors:   redactAll(errs),
		Warnings: redactAll(warns),
		Metadata: Metadata{GeneratedAt: at.UTC(), PIIRedacted: true},
	}
	r.Status = deriveStatus(len(r.Errors), len(r.Warnings))
	r.Summary = summarize(r.Errors, r.Warnings)
	return r
}

// Merge combines issue sets from several stages into one report.
func Merge(pack PackInfo, at time.Time, parts ...*Collector) *Report {
	var errs, warns []Issue
	for _, p := range parts {
		if p == nil {
			continue
		}
		errs = append(errs, p.errors...)
		warns = append(warns, p.warnings...)
	}
	return Build(errs, warns, pack, at)
}

// Blocking reports whether the run must not proceed.
func (r *Report) Blocking() bool { return r.Status == StatusFail }

func deriveStatus(errors, warnings int) Status {
	switch {
	case errors > 0:
		return StatusFail
	case warnings > 0:
		return StatusPassWithWarnings
	default:
		return StatusPass
	}
}

func summarize(errs, warns []Issue) Summary {
	s := Summary{TotalErrors: len(errs), TotalWarnings: len(warns), ByCategory: map[Category]int{}}
	for _, i := range errs {
		s.ByCategory[i.Category]++
	}
	for _, i := range warns {
		s.ByCategory[i.Category]++
	}
	return s
}

// Collector accumulates issues in discovery order.
type Collector struct {
	errors   []Issue
	warnings []Issue
}

func (c *Collector) Error(i Issue) { c.errors = append(c.errors, i) }

func (c *Collector) Warn(i Issue) { c.warnings = append(c.warnings, i) }

// Add records an issue as an error when blocking, otherwise as a warning.
func (c *Collector) Add(i Issue, blocking bool) {
	if blocking {
		c.Error(i)
		return
	}
	c.Warn(i)
}

func (c *Collector) Errors() []Issue { return c.errors }

func (c *Collector) Warnings() []Issue { return c.warnings }

func (c *Collector) HasErrors() bool { return len(c.errors) > 0 }

// Absorb appends another collector's issues.
func (c *Collector) Absorb(o *Collector) {
	if o == nil {
		return
	}
	c.errors = append(c.errors, o.errors...)
	c.warnings = append(c.warnings, o.warnings...)
}
