package service

import (
	"context"
	"fmt"
	"time"

	"mismobridge/internal/canonical"
	"mismobridge/internal/document"
	"mismobridge/internal/importer"
	"mismobridge/internal/pack"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/report"
	"mismobridge/internal/rules"
	"mismobridge/internal/schemacheck"
	id "mismobridge/pkg/domain"
	dErrors "mismobridge/pkg/domain-errors"
	"mismobridge/pkg/platform/audit"
	"mismobridge/pkg/requestcontext"
)

// Import maps a document into a canonical record. With AutoDetect the pack
// comes from the document's data version identifier; when that fails the
// document is quarantined and nothing is written downstream. Records from
// imports that did not fail go to the record sink.
func (s *Service) Import(ctx context.Context, req models.ImportRequest) (res *models.ImportResult, err error) {
	start := time.Now()
	var p *pack.Pack
	if !req.AutoDetect {
		if p, err = s.resolve(req.Target); err != nil {
			return nil, err
		}
	}
	ctx, span, runID := s.begin(ctx, models.RunImport)
	defer func() {
		var rep *report.Report
		if res != nil {
			rep = res.Report
		}
		endSpan(span, rep, err)
	}()

	hash := document.HashBytes(req.Document)
	if req.AutoDetect {
		var reason string
		p, reason = s.detect(req.Document)
		if p == nil {
			return s.quarantineImport(ctx, runID, req.Document, hash, reason, start)
		}
	}

	res = &models.ImportResult{RunID: runID, PackID: p.ID, Record: canonical.NewRecord()}
	if req.AutoDetect {
		res.DetectedPackID = p.ID
	}
	at := requestcontext.Now(ctx)
	doc, checks := s.validator.CheckBytes(req.Document, p)
	if doc == nil {
		res.Unmapped = []importer.UnmappedNode{importer.RawDocument(req.Document, "document is not well-formed")}
		res.Report = report.Merge(rules.PackInfo(p), at, checks)
	} else {
		mapped := s.mapper.Map(doc, p)
		res.Record = mapped.Record
		res.Unmapped = mapped.Unmapped
		res.Report = report.Merge(rules.PackInfo(p), at, checks, mapped.Issues)
	}
	res.Report.Pack.ContentHash = hash
	if err := s.persist(ctx, runID, models.RunImport, res.Report); err != nil {
		return nil, err
	}

	if s.sink != nil && !res.Report.Blocking() {
		if err := s.sink.Write(ctx, runID, p.ID, res.Record); err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "record sink write failed",
					"request_id", requestcontext.RequestID(ctx),
					"run_id", runID,
					"pack_id", p.ID,
					"error", err,
				)
			}
		} else {
			res.SinkWritten = true
		}
	}

	s.metrics.AddUnmapped(len(res.Unmapped))
	s.observe(ctx, runID, models.RunImport, res.Report, start,
		"content_hash", hash,
		"unmapped", len(res.Unmapped),
		"detected", req.AutoDetect,
		"sink_written", res.SinkWritten,
	)
	s.logAudit(ctx, audit.EventImportCompleted, runID, res.Report, len(res.Unmapped))
	return res, nil
}

// detect selects a pack from the document header. It returns nil and the
// reason when no pack matches.
func (s *Service) detect(data []byte) (*pack.Pack, string) {
	doc, err := document.Parse(data)
	if err != nil {
		return nil, "document is not well-formed"
	}
	identifier, ok := schemacheck.DataVersion(doc.Root, s.table.Header)
	if !ok {
		return nil, "document carries no " + s.table.Header.String()
	}
	packID, ok := s.packs.Detect(identifier)
	if !ok {
		return nil, fmt.Sprintf("no pack declares data version %q", identifier)
	}
	p, err := s.packs.Get(packID)
	if err != nil {
		return nil, err.Error()
	}
	return p, ""
}

// quarantineImport stores a document no pack could claim. The raw bytes
// and every top-level node are retained.
func (s *Service) quarantineImport(ctx context.Context, runID id.RunID, data []byte, hash, reason string, start time.Time) (*models.ImportResult, error) {
	c := &report.Collector{}
	c.Warn(report.Issue{
		Category: report.CategoryPack,
		Code:     report.CodePackNotDetected,
		Message:  "pack could not be detected; document quarantined: " + reason,
		Path:     "/",
	})
	var unmapped []importer.UnmappedNode
	if doc, err := document.Parse(data); err != nil {
		c.Error(report.Issue{
			Category: report.CategoryWellFormed,
			Code:     report.CodeMalformedDocument,
			Message:  "document is not well-formed: " + err.Error(),
		})
		unmapped = []importer.UnmappedNode{importer.RawDocument(data, reason)}
	} else {
		unmapped = importer.Quarantine(doc, reason)
	}

	rep := report.Merge(report.PackInfo{ContentHash: hash}, requestcontext.Now(ctx), c)
	if err := s.persist(ctx, runID, models.RunImport, rep); err != nil {
		return nil, err
	}
	q := &models.Quarantine{
		ID:        id.NewQuarantineID(),
		RunID:     runID,
		Reason:    reason,
		Raw:       data,
		Unmapped:  unmapped,
		CreatedAt: requestcontext.Now(ctx),
	}
	if s.quarantine != nil {
		if err := s.quarantine.Save(ctx, q); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to quarantine document")
		}
	}

	s.metrics.IncrementQuarantined()
	s.metrics.AddUnmapped(len(unmapped))
	s.observe(ctx, runID, models.RunImport, rep, start,
		"quarantine_id", q.ID,
		"reason", reason,
		"unmapped", len(unmapped),
	)
	s.logAudit(ctx, audit.EventImportQuarantined, runID, rep, len(unmapped))
	return &models.ImportResult{
		RunID:        runID,
		Record:       canonical.NewRecord(),
		Unmapped:     unmapped,
		Report:       rep,
		QuarantineID: q.ID,
		Quarantined:  true,
	}, nil
}

// Validate checks a document against a pack without mapping it. With no
// pack selected the document header decides; a document no pack claims
// fails with PACK_NOT_DETECTED.
func (s *Service) Validate(ctx context.Context, req models.ValidateRequest) (rep *report.Report, err error) {
	start := time.Now()
	var p *pack.Pack
	explicit := req.PackID != "" || req.Mode != ""
	if explicit {
		if p, err = s.resolve(req.Target); err != nil {
			return nil, err
		}
	}
	ctx, span, runID := s.begin(ctx, models.RunValidate)
	defer func() { endSpan(span, rep, err) }()

	hash := document.HashBytes(req.Document)
	at := requestcontext.Now(ctx)
	if p == nil {
		var reason string
		if p, reason = s.detect(req.Document); p == nil {
			c := &report.Collector{}
			if _, perr := document.Parse(req.Document); perr != nil {
				c.Error(report.Issue{
					Category: report.CategoryWellFormed,
					Code:     report.CodeMalformedDocument,
					Message:  "document is not well-formed: " + perr.Error(),
				})
			}
			c.Error(report.Issue{
				Category: report.CategoryPack,
				Code:     report.CodePackNotDetected,
				Message:  "no pack selected and none detected: " + reason,
				Path:     "/",
			})
			rep = report.Merge(report.PackInfo{ContentHash: hash}, at, c)
		}
	}
	if rep == nil {
		_, checks := s.validator.CheckBytes(req.Document, p)
		rep = report.Merge(rules.PackInfo(p), at, checks)
		rep.Pack.ContentHash = hash
	}
	if err := s.persist(ctx, runID, models.RunValidate, rep); err != nil {
		return nil, err
	}
	s.observe(ctx, runID, models.RunValidate, rep, start, "content_hash", hash)
	s.logAudit(ctx, audit.EventValidationCompleted, runID, rep, 0)
	return rep, nil
}
