// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the values; services and stores read them without importing
// net/http.
//
// Usage in services (read values):
//
//	requestID := requestcontext.RequestID(ctx)
//	runID := requestcontext.RunID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests and the CLI (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "mismobridge/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	requestIDKey   struct{}
	runIDKey       struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRunID       = runIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RunID retrieves the pipeline run ID from the context.
// Returns the zero value (nil UUID) if not set.
func RunID(ctx context.Context) id.RunID {
	if runID, ok := ctx.Value(ContextKeyRunID).(id.RunID); ok {
		return runID
	}
	return id.RunID{}
}

// WithRunID injects a pipeline run ID into the context.
func WithRunID(ctx context.Context, runID id.RunID) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like the harness, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Harness runs that need one timestamp across a batch
//   - CLI commands
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
