// Package metadata provides middleware that copies request metadata into
// the context read by services.
package metadata

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"mismobridge/pkg/requestcontext"
)

// RequestIDHeader carries a caller-supplied request ID. It is echoed back on
// the response.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID accepts the caller's X-Request-ID or generates one, and stores it
// for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
