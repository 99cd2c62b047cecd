package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteError maps err onto a status code by its gateway error kind and
// writes it with credentials redacted.
func WriteError(w http.ResponseWriter, err error) error {
	return ErrorResponse(w, StatusForError(err), apperrors.KindOf(err), logging.SanitizeError(err))
}

// StatusForError returns the HTTP status for a gateway error.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrInfrastructure):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrParse),
		errors.Is(err, apperrors.ErrNoStatement):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrPolicyViolation),
		errors.Is(err, apperrors.ErrCostRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrCatalogMiss):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrQueryFailed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
