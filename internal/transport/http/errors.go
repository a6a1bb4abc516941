package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/observability/logging"
)

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := dto.ErrorResponse{Error: err.Error()}
	var (
		status int
		ce     *domain.ConflictError
		ve     *domain.ValidationError
	)
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrDeviceNotFound),
		errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrCashierNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ce):
		status = http.StatusConflict
		body.Error = "conflict"
		body.Reason = string(ce.Reason)
		body.Message = ce.Message
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrMissingIdempotencyKey):
		status = http.StatusBadRequest
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		body.Error = "validation failed"
		body.Field = ve.Field
		body.Message = ve.Message
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
		body.Error = "internal error"
		logging.FromContext(r.Context(), slog.Default()).Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}
