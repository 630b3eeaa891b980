// Package httputil holds the JSON request and response helpers shared by
// HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "mismobridge/pkg/domain-errors"
)

// MaxBodyBytes bounds request bodies. Documents travel base64 or as strings
// inside JSON, so the limit is generous.
const MaxBodyBytes = 16 << 20

// Validatable is implemented by request types that normalize and check
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to a status code and JSON body. Internal
// errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)
	resp := ErrorResponse{Error: string(code)}
	if status != http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
		}
	}
	WriteJSON(w, status, resp)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes the JSON body into T and runs its Validate
// method. On failure it writes the error response and returns false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if err := PT(&req).Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
