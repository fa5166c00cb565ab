package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"piggybank/internal/core"
	"piggybank/internal/log"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var pe *core.PersistenceError
	switch {
	case errors.As(err, &pe):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrNotActive),
		errors.Is(err, core.ErrAlreadyMatured):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err to the client. Internal details of
// persistence and unexpected failures are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		msg = "could not save, nothing was changed; try again"
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusUnauthorized:
		msg = "guardian secret rejected"
	}
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
	}
	writeError(w, r, status, msg)
}

// decodeJSON reads a single JSON object from the body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %w", core.ErrInvalidInput, err)
	}
	return nil
}

func secretFrom(r *http.Request) string {
	return r.Header.Get(SecretHeader)
}
