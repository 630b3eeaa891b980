package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"

	id "mismobridge/pkg/domain"
	audit "mismobridge/pkg/platform/audit"
)

//go:embed schema.sql
var Schema string

// Store implements audit.Store over the audit_events table.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// Append inserts an event. The category is always derived from the action.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, run_id, action, pack_id, content_hash,
			status, errors, warnings, unmapped, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		string(audit.AuditEvent(event.Action).Category()),
		event.Timestamp,
		uuid.UUID(event.RunID),
		event.Action,
		event.PackID,
		event.ContentHash,
		event.Status,
		event.Errors,
		event.Warnings,
		event.Unmapped,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByRun returns the events of one run in insertion order.
func (s *Store) ListByRun(ctx context.Context, runID id.RunID) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, run_id, action, pack_id, content_hash,
			   status, errors, warnings, unmapped, request_id
		FROM audit_events
		WHERE run_id = $1
		ORDER BY timestamp ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(runID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			category string
			run      uuid.UUID
			event    audit.Event
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&run,
			&event.Action,
			&event.PackID,
			&event.ContentHash,
			&event.Status,
			&event.Errors,
			&event.Warnings,
			&event.Unmapped,
			&event.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.RunID = id.RunID(run)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
