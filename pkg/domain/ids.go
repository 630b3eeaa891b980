package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "mismobridge/pkg/domain-errors"
)

// Typed identifiers keep run, report and quarantine ids from being mixed up
// at call sites that accept several of them.
type (
	RunID        uuid.UUID
	ReportID     uuid.UUID
	QuarantineID uuid.UUID
)

// NewRunID returns a fresh random run id.
func NewRunID() RunID { return RunID(uuid.New()) }

// NewReportID returns a fresh random report id.
func NewReportID() ReportID { return ReportID(uuid.New()) }

// NewQuarantineID returns a fresh random quarantine id.
func NewQuarantineID() QuarantineID { return QuarantineID(uuid.New()) }

func (id RunID) String() string        { return uuid.UUID(id).String() }
func (id ReportID) String() string     { return uuid.UUID(id).String() }
func (id QuarantineID) String() string { return uuid.UUID(id).String() }

func (id RunID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id ReportID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id QuarantineID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *RunID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = RunID(u)
	return err
}

func (id *ReportID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ReportID(u)
	return err
}

func (id *QuarantineID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = QuarantineID(u)
	return err
}

// ParseRunID parses a run id at a trust boundary.
func ParseRunID(s string) (RunID, error) {
	u, err := parseUUID(s, "run_id")
	return RunID(u), err
}

// ParseReportID parses a report id at a trust boundary.
func ParseReportID(s string) (ReportID, error) {
	u, err := parseUUID(s, "report_id")
	return ReportID(u), err
}

// ParseQuarantineID parses a quarantine id at a trust boundary.
func ParseQuarantineID(s string) (QuarantineID, error) {
	u, err := parseUUID(s, "quarantine_id")
	return QuarantineID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be nil")
	}
	return u, nil
}
