//go:build integration

package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/pipeline/store/report"
	reportmodel "mismobridge/internal/report"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/sentinel"
	"mismobridge/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *report.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = report.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "conformance_reports")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newReport(runID id.RunID) *models.StoredReport {
	rep := reportmodel.Build(
		[]reportmodel.Issue{{
			Category: reportmodel.CategoryEnum,
			Code:     reportmodel.CodeInvalidEnum,
			Message:  "value is not in LoanPurposeType",
			Path:     "loan_purpose",
			Allowed:  []string{"Purchase", "Refinance"},
		}},
		nil,
		reportmodel.PackInfo{PackID: "mismo34-gse", StandardVersion: "3.4"},
		time.Now(),
	)
	rep.ID = id.NewReportID().String()
	reportID, err := id.ParseReportID(rep.ID)
	s.Require().NoError(err)
	return &models.StoredReport{
		ID:        reportID,
		RunID:     runID,
		RunKind:   models.RunPreflight,
		PackID:    "mismo34-gse",
		Status:    rep.Status,
		Report:    rep,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	r := s.newReport(id.NewRunID())
	s.Require().NoError(s.store.Save(ctx, r))

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.RunID, found.RunID)
	s.Equal(models.RunPreflight, found.RunKind)
	s.Equal(reportmodel.StatusFail, found.Status)
	s.Require().Len(found.Report.Errors, 1)
	s.Equal([]string{"Purchase", "Refinance"}, found.Report.Errors[0].Allowed)
	s.True(r.CreatedAt.Equal(found.CreatedAt))
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	_, err := s.store.FindByID(context.Background(), id.NewReportID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateIDConflicts() {
	ctx := context.Background()
	r := s.newReport(id.NewRunID())
	s.Require().NoError(s.store.Save(ctx, r))
	s.Require().ErrorIs(s.store.Save(ctx, r), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListByRun() {
	ctx := context.Background()
	runID := id.NewRunID()
	first := s.newReport(runID)
	second := s.newReport(runID)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.Save(ctx, second))
	s.Require().NoError(s.store.Save(ctx, first))
	s.Require().NoError(s.store.Save(ctx, s.newReport(id.NewRunID())))

	reports, err := s.store.ListByRun(ctx, runID)
	s.Require().NoError(err)
	s.Require().Len(reports, 2)
	s.Equal(first.ID, reports[0].ID)
	s.Equal(second.ID, reports[1].ID)
}
