// Package service implements the pipeline entry points: export, import,
// validate and preflight, plus report and quarantine lookups and harness
// runs. Data problems come back as reports; errors are reserved for unknown
// packs, bad requests and infrastructure failures.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mismobridge/internal/exporter"
	"mismobridge/internal/harness"
	"mismobridge/internal/importer"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/pipeline/metrics"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/pipeline/ports"
	"mismobridge/internal/report"
	"mismobridge/internal/rules"
	"mismobridge/internal/schemacheck"
	id "mismobridge/pkg/domain"
	dErrors "mismobridge/pkg/domain-errors"
	"mismobridge/pkg/platform/audit"
	"mismobridge/pkg/platform/sentinel"
	"mismobridge/pkg/requestcontext"
)

// TracerName is the instrumentation scope of pipeline spans.
const TracerName = "mismobridge/pipeline"

// Service runs the pipeline. It holds no per-run state and is safe for
// concurrent use.
type Service struct {
	packs     *pack.Registry
	table     *mapping.Table
	rules     *rules.Engine
	exporter  *exporter.Exporter
	validator *schemacheck.Validator
	mapper    *importer.Mapper
	harness   *harness.Harness

	reports    ports.ReportStore
	quarantine ports.QuarantineStore
	sink       ports.RecordSink

	modes          map[string]string
	defaultMode    string
	harnessWorkers int

	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRecordSink sets where successful imports are written.
func WithRecordSink(sink ports.RecordSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithModes maps mode names to pack ids. defaultMode applies when a request
// names neither a mode nor a pack.
func WithModes(defaultMode string, modes map[string]string) Option {
	return func(s *Service) {
		s.defaultMode = defaultMode
		s.modes = modes
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithHarnessWorkers(n int) Option {
	return func(s *Service) {
		s.harnessWorkers = n
	}
}

// New wires the pipeline over a pack registry and mapping table. Every mode
// must name a registered pack.
func New(packs *pack.Registry, table *mapping.Table, reports ports.ReportStore, quarantine ports.QuarantineStore, opts ...Option) (*Service, error) {
	s := &Service{
		packs:      packs,
		table:      table,
		rules:      rules.New(packs, table),
		exporter:   exporter.New(table),
		validator:  schemacheck.New(packs, table.Header),
		reports:    reports,
		quarantine: quarantine,
		tracer:     otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, p := range packs.Packs() {
		if err := table.CheckPack(p); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "mapping table does not fit pack "+p.ID)
		}
	}
	for mode, packID := range s.modes {
		if _, err := packs.Get(packID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "mode "+mode+" names an unknown pack")
		}
	}
	if s.defaultMode != "" {
		if _, ok := s.modes[s.defaultMode]; !ok {
			return nil, dErrors.New(dErrors.CodeConfiguration, "default mode "+s.defaultMode+" is not configured")
		}
	}

	mapper, err := importer.New(packs, table)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to build import plans")
	}
	s.mapper = mapper
	var hopts []harness.Option
	if s.harnessWorkers > 0 {
		hopts = append(hopts, harness.WithWorkers(s.harnessWorkers))
	}
	h, err := harness.New(packs, table, hopts...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to build round-trip harness")
	}
	s.harness = h
	return s, nil
}

// resolve picks the pack for a request.
func (s *Service) resolve(t models.Target) (*pack.Pack, error) {
	packID := t.PackID
	if packID == "" {
		mode := t.Mode
		if mode == "" {
			mode = s.defaultMode
		}
		if mode == "" {
			return nil, dErrors.New(dErrors.CodeBadRequest, "no pack or mode selected")
		}
		var ok bool
		if packID, ok = s.modes[mode]; !ok {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown mode "+mode)
		}
	}
	return s.pack(packID)
}

func (s *Service) pack(packID string) (*pack.Pack, error) {
	p, err := s.packs.Get(packID)
	if err != nil {
		var unknown *pack.UnknownPackError
		if errors.As(err, &unknown) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, err.Error())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pack")
	}
	return p, nil
}

// begin starts a traced run and stamps its id into the context.
func (s *Service) begin(ctx context.Context, kind models.RunKind) (context.Context, trace.Span, id.RunID) {
	runID := id.NewRunID()
	ctx = requestcontext.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "pipeline."+string(kind),
		trace.WithAttributes(
			attribute.String("run.id", runID.String()),
			attribute.String("run.kind", string(kind)),
		))
	return ctx, span, runID
}

func endSpan(span trace.Span, rep *report.Report, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if rep != nil {
		span.SetAttributes(
			attribute.String("pack.id", rep.Pack.PackID),
			attribute.String("report.status", string(rep.Status)),
			attribute.Int("report.errors", rep.Summary.TotalErrors),
			attribute.Int("report.warnings", rep.Summary.TotalWarnings),
		)
		if rep.Status == report.StatusFail {
			span.SetStatus(codes.Error, "report failed")
		}
	}
	span.End()
}

// persist stamps the report with its id and kind and stores it.
func (s *Service) persist(ctx context.Context, runID id.RunID, kind models.RunKind, rep *report.Report) error {
	reportID := id.NewReportID()
	rep.ID = reportID.String()
	rep.RunKind = string(kind)
	if s.reports == nil {
		return nil
	}
	err := s.reports.Save(ctx, &models.StoredReport{
		ID:        reportID,
		RunID:     runID,
		RunKind:   kind,
		PackID:    rep.Pack.PackID,
		Status:    rep.Status,
		Report:    rep,
		CreatedAt: requestcontext.Now(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save report")
	}
	return nil
}

// observe records metrics and the run log line.
func (s *Service) observe(ctx context.Context, runID id.RunID, kind models.RunKind, rep *report.Report, start time.Time, attributes ...any) {
	d := time.Since(start)
	s.metrics.ObserveRun(string(kind), string(rep.Status), rep.Summary.TotalErrors, rep.Summary.TotalWarnings, d)
	if s.logger == nil {
		return
	}
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"run_id", runID,
		"run_kind", kind,
		"pack_id", rep.Pack.PackID,
		"status", rep.Status,
		"errors", rep.Summary.TotalErrors,
		"warnings", rep.Summary.TotalWarnings,
		"duration_ms", d.Milliseconds(),
	}, attributes...)
	s.logger.InfoContext(ctx, "pipeline run completed", args...)
}

// logAudit publishes an audit event. Publishing failures are logged and
// never fail the run.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, runID id.RunID, rep *report.Report, unmapped int) {
	if s.auditPublisher == nil {
		return
	}
	e := audit.Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		RunID:     runID,
		Action:    string(event),
		Unmapped:  unmapped,
		RequestID: requestcontext.RequestID(ctx),
	}
	if rep != nil {
		e.PackID = rep.Pack.PackID
		e.ContentHash = rep.Pack.ContentHash
		e.Status = string(rep.Status)
		e.Errors = rep.Summary.TotalErrors
		e.Warnings = rep.Summary.TotalWarnings
	}
	if err := s.auditPublisher.Emit(ctx, e); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			"run_id", runID,
			"action", event,
			"error", err,
		)
	}
}

// GetReport returns a stored report.
func (s *Service) GetReport(ctx context.Context, reportID id.ReportID) (*models.StoredReport, error) {
	if s.reports == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "report not found")
	}
	r, err := s.reports.FindByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "report not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load report")
	}
	return r, nil
}

// GetQuarantine returns a quarantined document.
func (s *Service) GetQuarantine(ctx context.Context, quarantineID id.QuarantineID) (*models.Quarantine, error) {
	if s.quarantine == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "quarantine entry not found")
	}
	q, err := s.quarantine.FindByID(ctx, quarantineID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "quarantine entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load quarantine entry")
	}
	return q, nil
}

// Packs lists the registered packs.
func (s *Service) Packs() []pack.Summary {
	return s.packs.List()
}

// Modes returns the configured mode to pack mapping and the default mode.
func (s *Service) Modes() (map[string]string, string) {
	out := make(map[string]string, len(s.modes))
	for k, v := range s.modes {
		out[k] = v
	}
	return out, s.defaultMode
}

// Pack returns one pack.
func (s *Service) Pack(packID string) (*pack.Pack, error) {
	return s.pack(packID)
}

// Enum returns the allowed values of an enumeration in a pack.
func (s *Service) Enum(packID, name string) ([]string, error) {
	if _, err := s.pack(packID); err != nil {
		return nil, err
	}
	values, err := s.packs.Enum(packID, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, err.Error())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enumeration")
	}
	return values, nil
}
