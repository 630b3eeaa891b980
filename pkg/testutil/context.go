package testutil

import (
	"context"
	"net/http"
	"time"

	id "mismobridge/pkg/domain"
	"mismobridge/pkg/requestcontext"
)

// WithRequestID adds a request ID to the request context, as the request ID
// middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithRunID adds a pipeline run ID to the request context.
// If runID is not a valid UUID, it will not be added to the context.
func WithRunID(req *http.Request, runID string) *http.Request {
	if parsed, err := id.ParseRunID(runID); err == nil {
		return req.WithContext(requestcontext.WithRunID(req.Context(), parsed))
	}
	return req
}

// WithTime pins the request-scoped clock so reports carry a known timestamp.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// FixedContext returns a background context with a pinned clock and request ID.
func FixedContext(t time.Time, requestID string) context.Context {
	ctx := requestcontext.WithTime(context.Background(), t)
	return requestcontext.WithRequestID(ctx, requestID)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
