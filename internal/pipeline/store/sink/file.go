// Package sink writes imported canonical records for downstream systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mismobridge/internal/canonical"
	id "mismobridge/pkg/domain"
)

// Envelope is the file layout of one delivered record.
type Envelope struct {
	RunID     id.RunID         `json:"run_id"`
	PackID    string           `json:"pack_id"`
	WrittenAt time.Time        `json:"written_at"`
	Record    canonical.Record `json:"canonical_record"`
}

// FileSink writes one JSON file per run into a directory. Files appear
// atomically: readers never see a partial record.
type FileSink struct {
	dir string
	now func() time.Time
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	return &FileSink{dir: dir, now: time.Now}, nil
}

// Path returns the file a run's record is written to.
func (s *FileSink) Path(runID id.RunID) string {
	return filepath.Join(s.dir, runID.String()+".json")
}

func (s *FileSink) Write(ctx context.Context, runID id.RunID, packID string, rec canonical.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Envelope{
		RunID:     runID,
		PackID:    packID,
		WrittenAt: s.now().UTC(),
		Record:    rec,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(runID)); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}
