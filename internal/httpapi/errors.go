package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"sareebill/backend/internal/service"
	"sareebill/backend/internal/store"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// classify maps an error kind to its HTTP status and machine reason.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrApprovalRequired):
		return http.StatusForbidden, "APPROVAL_REQUIRED"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, store.ErrBusy):
		return http.StatusServiceUnavailable, "BUSY"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := classify(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		a.logger.Warn("storage busy",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		msg = "storage is busy, retry the request"
	case status >= 500:
		a.logger.Error("internal error",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		msg = "internal server error"
	}
	writeError(w, status, reason, msg)
}

func writeError(w http.ResponseWriter, status int, reason string, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Reason: reason})
}
