package sentinel

import "errors"

// Store outcomes shared by the report, quarantine and audit stores. Stores
// return them, possibly wrapped, and the pipeline service maps them to
// domain error codes.
var (
	// ErrNotFound means no report or quarantine entry has the requested id.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an entry with the same id was already saved.
	ErrConflict = errors.New("conflict")
)
