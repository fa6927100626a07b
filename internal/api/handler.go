// Package api provides HTTP handlers for the calmpath API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calmpath/internal/domain"
)

const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Message: message})
}

// writeError maps a service error to its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		JSON(w, http.StatusBadRequest, errorBody{Message: ve.Message, Field: ve.Field})
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConflict):
		Error(w, http.StatusConflict, "The session was changed elsewhere, reload and try again")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("", "request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.NewValidationError("", "request body is too large")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.NewValidationError(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
		}
		return domain.NewValidationError("", "malformed JSON body")
	}
	return nil
}

// idParam parses a positive integer URL parameter.
func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}
