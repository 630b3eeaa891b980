package report

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mismobridge/internal/pipeline/models"
	reportmodel "mismobridge/internal/report"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/sentinel"
)

//go:embed schema.sql
var Schema string

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore persists reports as JSONB rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the reports table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate conformance_reports: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r *models.StoredReport) error {
	body, err := json.Marshal(r.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conformance_reports (id, run_id, run_kind, pack_id, status, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(r.ID), uuid.UUID(r.RunID), string(r.RunKind), r.PackID, string(r.Status), body, r.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reportID id.ReportID) (*models.StoredReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, run_kind, pack_id, status, report, created_at
		FROM conformance_reports WHERE id = $1`, uuid.UUID(reportID))
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return r, err
}

// ListByRun returns the reports of one run, oldest first.
func (s *PostgresStore) ListByRun(ctx context.Context, runID id.RunID) ([]*models.StoredReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, run_kind, pack_id, status, report, created_at
		FROM conformance_reports WHERE run_id = $1 ORDER BY created_at, id`, uuid.UUID(runID))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []*models.StoredReport
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.StoredReport, error) {
	var (
		reportID, runID uuid.UUID
		kind, status    string
		body            []byte
		r               models.StoredReport
	)
	if err := row.Scan(&reportID, &runID, &kind, &r.PackID, &status, &body, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	r.ID = id.ReportID(reportID)
	r.RunID = id.RunID(runID)
	r.RunKind = models.RunKind(kind)
	r.Status = reportmodel.Status(status)
	r.Report = &reportmodel.Report{}
	if err := json.Unmarshal(body, r.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
