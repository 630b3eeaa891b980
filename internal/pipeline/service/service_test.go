package service

//go:generate mockgen -source=../ports/ports.go -destination=../mocks/mocks.go -package=mocks
import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mismobridge/internal/canonical"
	"mismobridge/internal/harness"
	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/pipeline/mocks"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/report"
	id "mismobridge/pkg/domain"
	dErrors "mismobridge/pkg/domain-errors"
	"mismobridge/pkg/platform/audit"
	"mismobridge/pkg/platform/sentinel"
	"mismobridge/pkg/requestcontext"
)

const (
	genericPack = "mismo34-generic"
	gsePack     = "mismo34-gse"
)

var modes = map[string]string{"generic": genericPack, "gse": gsePack}

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	packs      *pack.Registry
	table      *mapping.Table
	reports    *mocks.MockReportStore
	quarantine *mocks.MockQuarantineStore
	publisher  *mocks.MockAuditPublisher
	sink       *mocks.MockRecordSink
	service    *Service
	ctx        context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.packs, err = pack.Default()
	s.Require().NoError(err)
	s.table, err = mapping.Default()
	s.Require().NoError(err)

	s.ctrl = gomock.NewController(s.T())
	s.reports = mocks.NewMockReportStore(s.ctrl)
	s.quarantine = mocks.NewMockQuarantineStore(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.sink = mocks.NewMockRecordSink(s.ctrl)

	s.service, err = New(s.packs, s.table, s.reports, s.quarantine,
		WithModes("generic", modes),
		WithAuditPublisher(s.publisher),
		WithRecordSink(s.sink),
		WithHarnessWorkers(2),
	)
	s.Require().NoError(err)

	s.ctx = requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-1"),
		time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) record(packID string, seed uint64) canonical.Record {
	p, err := s.packs.Get(packID)
	s.Require().NoError(err)
	return harness.Generate(1, seed, p)[0].Record
}

// expectReport accepts one saved report of the given kind and hands it back.
func (s *ServiceSuite) expectReport(kind models.RunKind) *models.StoredReport {
	saved := &models.StoredReport{}
	s.reports.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *models.StoredReport) error {
			s.Equal(kind, r.RunKind)
			*saved = *r
			return nil
		})
	return saved
}

func (s *ServiceSuite) expectAudit(action audit.AuditEvent) *audit.Event {
	got := &audit.Event{}
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.Equal(string(action), e.Action)
			*got = e
			return nil
		})
	return got
}

func (s *ServiceSuite) export(packID string, rec canonical.Record) *models.ExportResult {
	s.expectReport(models.RunExport)
	s.expectAudit(audit.EventExportCompleted)
	res, err := s.service.Export(s.ctx, models.ExportRequest{Target: models.Target{PackID: packID}, Record: rec})
	s.Require().NoError(err)
	s.Require().False(res.Blocked)
	return res
}

func (s *ServiceSuite) TestExport() {
	s.Run("renders, validates and stores the report", func() {
		saved := s.expectReport(models.RunExport)
		event := s.expectAudit(audit.EventExportCompleted)

		res, err := s.service.Export(s.ctx, models.ExportRequest{
			Target: models.Target{Mode: "gse"},
			Record: s.record(gsePack, 11),
		})
		s.Require().NoError(err)
		s.Equal(gsePack, res.PackID)
		s.False(res.Blocked)
		s.NotEmpty(res.Document)
		s.True(strings.HasPrefix(res.ContentHash, "sha256:"))
		s.NotEqual(report.StatusFail, res.Report.Status)
		s.Equal("export", res.Report.RunKind)
		s.Equal(res.ContentHash, res.Report.Pack.ContentHash)
		s.Equal("preflight", res.Preflight.RunKind)

		s.Equal(res.Report.ID, saved.ID.String())
		s.Equal(res.RunID, saved.RunID)
		s.Equal(res.RunID, event.RunID)
		s.Equal(res.ContentHash, event.ContentHash)
		s.Equal("req-1", event.RequestID)
		s.Equal(audit.CategoryCompliance, event.Category)
	})

	s.Run("same record exports to the same bytes", func() {
		rec := s.record(genericPack, 3)
		first := s.export(genericPack, rec)
		second := s.export(genericPack, rec)
		s.Equal(first.ContentHash, second.ContentHash)
		s.Equal(first.Document, second.Document)
		s.NotEqual(first.RunID, second.RunID)
	})

	s.Run("default mode applies without a target", func() {
		s.expectReport(models.RunExport)
		s.expectAudit(audit.EventExportCompleted)
		res, err := s.service.Export(s.ctx, models.ExportRequest{Record: s.record(genericPack, 5)})
		s.Require().NoError(err)
		s.Equal(genericPack, res.PackID)
	})
}

func (s *ServiceSuite) TestExportBlockedByPreflight() {
	rec := s.record(gsePack, 21)
	delete(rec.Fields, "loan_amount")

	s.Run("failing preflight produces no document", func() {
		saved := s.expectReport(models.RunExport)
		s.expectAudit(audit.EventExportBlocked)

		res, err := s.service.Export(s.ctx, models.ExportRequest{Target: models.Target{PackID: gsePack}, Record: rec})
		s.Require().NoError(err)
		s.True(res.Blocked)
		s.Nil(res.Document)
		s.Empty(res.ContentHash)
		s.Equal(report.StatusFail, res.Report.Status)
		s.Equal(report.StatusFail, saved.Status)

		var codes []string
		for _, i := range res.Report.Errors {
			codes = append(codes, i.Code)
		}
		s.Contains(codes, report.CodeMissingElement)
	})

	s.Run("skip preflight renders anyway", func() {
		s.expectReport(models.RunExport)
		s.expectAudit(audit.EventExportCompleted)

		res, err := s.service.Export(s.ctx, models.ExportRequest{
			Target:        models.Target{PackID: gsePack},
			Record:        rec,
			SkipPreflight: true,
		})
		s.Require().NoError(err)
		s.False(res.Blocked)
		s.Nil(res.Preflight)
		s.NotEmpty(res.Document)
	})
}

func (s *ServiceSuite) TestImport() {
	rec := s.record(gsePack, 31)
	exported := s.export(gsePack, rec)
	p, err := s.packs.Get(gsePack)
	s.Require().NoError(err)
	want := s.table.Restrict(s.table.Normalize(rec, p), gsePack)

	s.Run("explicit pack writes the record downstream", func() {
		s.expectReport(models.RunImport)
		event := s.expectAudit(audit.EventImportCompleted)
		s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gsePack, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ id.RunID, _ string, got canonical.Record) error {
				s.Empty(canonical.Diff(want, got))
				return nil
			})

		res, err := s.service.Import(s.ctx, models.ImportRequest{
			Target:   models.Target{PackID: gsePack},
			Document: exported.Document,
		})
		s.Require().NoError(err)
		s.True(res.SinkWritten)
		s.Empty(res.DetectedPackID)
		s.Empty(res.Unmapped)
		s.Equal(exported.ContentHash, res.Report.Pack.ContentHash)
		s.Equal(res.RunID, event.RunID)
	})

	s.Run("auto detection selects the pack from the header", func() {
		s.expectReport(models.RunImport)
		s.expectAudit(audit.EventImportCompleted)
		s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gsePack, gomock.Any()).Return(nil)

		res, err := s.service.Import(s.ctx, models.ImportRequest{Document: exported.Document, AutoDetect: true})
		s.Require().NoError(err)
		s.Equal(gsePack, res.DetectedPackID)
		s.False(res.Quarantined)
		s.Empty(canonical.Diff(want, res.Record))
	})

	s.Run("sink failure is logged and the run still completes", func() {
		s.expectReport(models.RunImport)
		s.expectAudit(audit.EventImportCompleted)
		s.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gsePack, gomock.Any()).Return(errors.New("downstream unavailable"))

		res, err := s.service.Import(s.ctx, models.ImportRequest{Target: models.Target{PackID: gsePack}, Document: exported.Document})
		s.Require().NoError(err)
		s.False(res.SinkWritten)
	})

	s.Run("malformed document fails without a sink write", func() {
		s.expectReport(models.RunImport)
		s.expectAudit(audit.EventImportCompleted)

		res, err := s.service.Import(s.ctx, models.ImportRequest{
			Target:   models.Target{PackID: gsePack},
			Document: []byte("<MESSAGE><DEAL_SETS>"),
		})
		s.Require().NoError(err)
		s.Equal(report.StatusFail, res.Report.Status)
		s.Equal(report.CategoryWellFormed, res.Report.Errors[0].Category)
		s.False(res.SinkWritten)
		s.Require().Len(res.Unmapped, 1)
		s.Equal("<MESSAGE><DEAL_SETS>", res.Unmapped[0].Raw)
	})
}

func (s *ServiceSuite) TestImportQuarantine() {
	s.Run("unrecognized document is quarantined", func() {
		doc := []byte(`<?xml version="1.0"?>` + "\n" +
			`<MESSAGE xmlns="http://www.mismo.org/residential/2009/schemas"><DEAL_SETS><DEAL_SET/></DEAL_SETS></MESSAGE>`)
		s.expectReport(models.RunImport)
		event := s.expectAudit(audit.EventImportQuarantined)
		var stored models.Quarantine
		s.quarantine.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, q *models.Quarantine) error {
				stored = *q
				return nil
			})

		res, err := s.service.Import(s.ctx, models.ImportRequest{Document: doc, AutoDetect: true})
		s.Require().NoError(err)
		s.True(res.Quarantined)
		s.Empty(res.DetectedPackID)
		s.Empty(res.PackID)
		s.False(res.SinkWritten)
		s.Empty(res.Record.Fields)
		s.Equal(report.StatusPassWithWarnings, res.Report.Status)
		s.Equal(report.CodePackNotDetected, res.Report.Warnings[0].Code)
		s.NotEmpty(res.Unmapped)

		s.Equal(res.QuarantineID, stored.ID)
		s.Equal(doc, stored.Raw)
		s.Equal(res.Unmapped, stored.Unmapped)
		s.Equal(res.Unmapped[0].Path, "/MESSAGE/DEAL_SETS")
		s.Equal(len(res.Unmapped), event.Unmapped)
	})

	s.Run("unknown data version is quarantined", func() {
		doc := []byte(`<MESSAGE><ABOUT_VERSIONS><ABOUT_VERSION><DataVersionIdentifier>ACME-1</DataVersionIdentifier></ABOUT_VERSION></ABOUT_VERSIONS></MESSAGE>`)
		s.expectReport(models.RunImport)
		s.expectAudit(audit.EventImportQuarantined)
		s.quarantine.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.service.Import(s.ctx, models.ImportRequest{Document: doc, AutoDetect: true})
		s.Require().NoError(err)
		s.True(res.Quarantined)
		s.Contains(res.Report.Warnings[0].Message, "ACME-1")
	})

	s.Run("malformed document is quarantined verbatim", func() {
		doc := []byte("not xml at all")
		s.expectReport(models.RunImport)
		s.expectAudit(audit.EventImportQuarantined)
		s.quarantine.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.service.Import(s.ctx, models.ImportRequest{Document: doc, AutoDetect: true})
		s.Require().NoError(err)
		s.True(res.Quarantined)
		s.Equal(report.StatusFail, res.Report.Status)
		s.Require().Len(res.Unmapped, 1)
		s.Equal("not xml at all", res.Unmapped[0].Raw)
	})

	s.Run("store failure is an internal error", func() {
		s.expectReport(models.RunImport)
		s.quarantine.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

		_, err := s.service.Import(s.ctx, models.ImportRequest{Document: []byte("<MESSAGE/>"), AutoDetect: true})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestValidate() {
	exported := s.export(genericPack, s.record(genericPack, 41))

	s.Run("explicit pack", func() {
		s.expectReport(models.RunValidate)
		event := s.expectAudit(audit.EventValidationCompleted)
		rep, err := s.service.Validate(s.ctx, models.ValidateRequest{Target: models.Target{PackID: genericPack}, Document: exported.Document})
		s.Require().NoError(err)
		s.NotEqual(report.StatusFail, rep.Status)
		s.Equal(audit.CategoryOperations, event.Category)
	})

	s.Run("wrong pack reports a mismatch", func() {
		s.expectReport(models.RunValidate)
		s.expectAudit(audit.EventValidationCompleted)
		rep, err := s.service.Validate(s.ctx, models.ValidateRequest{Target: models.Target{PackID: gsePack}, Document: exported.Document})
		s.Require().NoError(err)
		var codes []string
		for _, i := range append(rep.Errors, rep.Warnings...) {
			codes = append(codes, i.Code)
		}
		s.Contains(codes, report.CodePackMismatch)
	})

	s.Run("detected pack", func() {
		s.expectReport(models.RunValidate)
		s.expectAudit(audit.EventValidationCompleted)
		rep, err := s.service.Validate(s.ctx, models.ValidateRequest{Document: exported.Document})
		s.Require().NoError(err)
		s.Equal(genericPack, rep.Pack.PackID)
	})

	s.Run("undetectable document fails", func() {
		s.expectReport(models.RunValidate)
		s.expectAudit(audit.EventValidationCompleted)
		rep, err := s.service.Validate(s.ctx, models.ValidateRequest{Document: []byte("<MESSAGE/>")})
		s.Require().NoError(err)
		s.Equal(report.StatusFail, rep.Status)
		s.Equal(report.CodePackNotDetected, rep.Errors[0].Code)
	})
}

func (s *ServiceSuite) TestPreflight() {
	rec := s.record(gsePack, 51)
	rec.Set("loan_purpose", canonical.String("Purchase"))
	rec.Set("cash_out_amount", canonical.Number(1000))

	s.expectReport(models.RunPreflight)
	s.expectAudit(audit.EventPreflightCompleted)
	rep, err := s.service.Preflight(s.ctx, models.PreflightRequest{Target: models.Target{Mode: "gse"}, Record: rec})
	s.Require().NoError(err)
	s.Equal(report.StatusFail, rep.Status)
	s.Equal("preflight", rep.RunKind)

	var codes []string
	for _, i := range rep.Errors {
		codes = append(codes, i.Code)
	}
	s.Contains(codes, report.CodeConditionalForbid)
}

func (s *ServiceSuite) TestTargetResolution() {
	s.Run("unknown mode is a bad request", func() {
		_, err := s.service.Preflight(s.ctx, models.PreflightRequest{Target: models.Target{Mode: "fannie"}})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown pack is not found", func() {
		_, err := s.service.Export(s.ctx, models.ExportRequest{Target: models.Target{PackID: "mismo99"}})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		var unknown *pack.UnknownPackError
		s.ErrorAs(err, &unknown)
	})

	s.Run("no default mode and no target", func() {
		svc, err := New(s.packs, s.table, nil, nil)
		s.Require().NoError(err)
		_, err = svc.Preflight(s.ctx, models.PreflightRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestNewRejectsBadModes() {
	_, err := New(s.packs, s.table, nil, nil, WithModes("generic", map[string]string{"generic": "nope"}))
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))

	_, err = New(s.packs, s.table, nil, nil, WithModes("gse", map[string]string{"generic": genericPack}))
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailRun() {
	s.expectReport(models.RunPreflight)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit buffer full"))

	rep, err := s.service.Preflight(s.ctx, models.PreflightRequest{Record: s.record(genericPack, 61)})
	s.Require().NoError(err)
	s.NotNil(rep)
}

func (s *ServiceSuite) TestReportStoreFailure() {
	s.reports.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	_, err := s.service.Preflight(s.ctx, models.PreflightRequest{Record: s.record(genericPack, 71)})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestGetReport() {
	s.Run("found", func() {
		want := &models.StoredReport{ID: id.NewReportID(), Status: report.StatusPass}
		s.reports.EXPECT().FindByID(gomock.Any(), want.ID).Return(want, nil)
		got, err := s.service.GetReport(s.ctx, want.ID)
		s.Require().NoError(err)
		s.Equal(want, got)
	})

	s.Run("not found", func() {
		s.reports.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.GetReport(s.ctx, id.NewReportID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("store failure", func() {
		s.reports.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))
		_, err := s.service.GetReport(s.ctx, id.NewReportID())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestGetQuarantine() {
	s.quarantine.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
	_, err := s.service.GetQuarantine(s.ctx, id.NewQuarantineID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestPackQueries() {
	s.Len(s.service.Packs(), 2)

	values, err := s.service.Enum(gsePack, "LoanPurposeType")
	s.Require().NoError(err)
	s.Contains(values, "CashOutRefinance")

	_, err = s.service.Enum(gsePack, "NoSuchEnum")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Pack("nope")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	got, def := s.service.Modes()
	s.Equal(modes, got)
	s.Equal("generic", def)
}

func (s *ServiceSuite) TestRunHarness() {
	s.Run("round-trips a seeded corpus", func() {
		event := s.expectAudit(audit.EventHarnessCompleted)
		sum, err := s.service.RunHarness(s.ctx, models.HarnessRequest{Target: models.Target{Mode: "gse"}, Cases: 12, Seed: 9})
		s.Require().NoError(err)
		s.Equal(12, sum.Total)
		s.Equal(12, sum.Passed)
		s.Equal("PASS", event.Status)
	})

	s.Run("rejects an empty corpus", func() {
		_, err := s.service.RunHarness(s.ctx, models.HarnessRequest{Cases: 0})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
