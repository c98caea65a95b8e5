package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"clipd/internal/embedder"
	"clipd/internal/runtime"
	"clipd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case embedder.IsNotReady(err):
		return http.StatusServiceUnavailable
	case embedder.IsUnsupported(err):
		return http.StatusNotImplemented
	case embedder.IsTooBusy(err):
		return http.StatusTooManyRequests
	case embedder.IsImageNotFound(err):
		return http.StatusNotFound
	case embedder.IsInvalidInput(err):
		return http.StatusBadRequest
	case runtime.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
