package service

import (
	"context"
	"time"

	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/report"
	"mismobridge/internal/rules"
	"mismobridge/internal/split"
	dErrors "mismobridge/pkg/domain-errors"
	"mismobridge/pkg/platform/audit"
	"mismobridge/pkg/requestcontext"
)

// Export gates the record through preflight, renders it under the selected
// pack and validates the output. A failing preflight blocks the export and
// the result carries no document. The final report merges preflight and
// validator findings.
func (s *Service) Export(ctx context.Context, req models.ExportRequest) (res *models.ExportResult, err error) {
	start := time.Now()
	p, err := s.resolve(req.Target)
	if err != nil {
		return nil, err
	}
	ctx, span, runID := s.begin(ctx, models.RunExport)
	defer func() {
		var rep *report.Report
		if res != nil {
			rep = res.Report
		}
		endSpan(span, rep, err)
	}()

	at := requestcontext.Now(ctx)
	info := rules.PackInfo(p)
	rec := s.table.Normalize(req.Record, p)
	res = &models.ExportResult{RunID: runID, PackID: p.ID}

	var pre *report.Collector
	if req.SkipPreflight {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "export preflight skipped",
				"request_id", requestcontext.RequestID(ctx),
				"run_id", runID,
				"pack_id", p.ID,
			)
		}
	} else {
		pre = s.rules.Check(rec, p)
		res.Preflight = report.Merge(info, at, pre)
		res.Preflight.RunKind = string(models.RunPreflight)
		if pre.HasErrors() {
			res.Blocked = true
			res.Report = report.Merge(info, at, pre)
			if err := s.persist(ctx, runID, models.RunExport, res.Report); err != nil {
				return nil, err
			}
			s.metrics.IncrementExportBlocked()
			s.observe(ctx, runID, models.RunExport, res.Report, start, "blocked", true)
			s.logAudit(ctx, audit.EventExportBlocked, runID, res.Report, 0)
			return res, nil
		}
	}

	out, err := s.exporter.Export(split.Split(rec, s.table, p.ID), p)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render document")
	}
	_, checks := s.validator.CheckBytes(out.Bytes, p)

	res.Document = out.Bytes
	res.ContentHash = out.ContentHash
	res.Report = report.Merge(info, at, pre, checks)
	res.Report.Pack.ContentHash = out.ContentHash
	if err := s.persist(ctx, runID, models.RunExport, res.Report); err != nil {
		return nil, err
	}
	s.observe(ctx, runID, models.RunExport, res.Report, start, "content_hash", out.ContentHash, "bytes", len(out.Bytes))
	s.logAudit(ctx, audit.EventExportCompleted, runID, res.Report, 0)
	return res, nil
}

// Preflight runs the rules engine without rendering a document.
func (s *Service) Preflight(ctx context.Context, req models.PreflightRequest) (rep *report.Report, err error) {
	start := time.Now()
	p, err := s.resolve(req.Target)
	if err != nil {
		return nil, err
	}
	ctx, span, runID := s.begin(ctx, models.RunPreflight)
	defer func() { endSpan(span, rep, err) }()

	rep = report.Merge(rules.PackInfo(p), requestcontext.Now(ctx), s.rules.Check(s.table.Normalize(req.Record, p), p))
	if err := s.persist(ctx, runID, models.RunPreflight, rep); err != nil {
		return nil, err
	}
	s.observe(ctx, runID, models.RunPreflight, rep, start)
	s.logAudit(ctx, audit.EventPreflightCompleted, runID, rep, 0)
	return rep, nil
}
