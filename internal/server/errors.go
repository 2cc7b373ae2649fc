package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ChaceN89/library/internal/app"
	"github.com/ChaceN89/library/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// writeAppError maps an application error onto a status and error code.
// Internal details of server and storage failures stay in the log.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	switch status {
	case http.StatusBadGateway:
		logError(r.Context(), "storage_failure", err)
		msg = "storage unavailable"
	case http.StatusInternalServerError:
		logError(r.Context(), "internal_error", err)
		msg = "internal error"
	case http.StatusUnauthorized:
		msg = "unauthorized"
	}
	writeError(w, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrAlreadyFavorited):
		return http.StatusBadRequest, "FAVORITE_ALREADY_EXISTS"
	case errors.Is(err, app.ErrNotFavorited):
		return http.StatusNotFound, "FAVORITE_NOT_FOUND"
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, "RESOURCE_NOT_FOUND"
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, "ACCESS_FORBIDDEN"
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest, "REQUEST_INVALID"
	case errors.Is(err, app.ErrConflict):
		return http.StatusConflict, "RESOURCE_CONFLICT"
	case errors.Is(err, app.ErrStorage):
		return http.StatusBadGateway, "STORAGE_UNAVAILABLE"
	case errors.Is(err, app.ErrInvalidCredentials):
		return http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"
	case errors.Is(err, app.ErrUnauthenticated):
		return http.StatusUnauthorized, "AUTH_INVALID_TOKEN"
	default:
		return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "REQUEST_INVALID", msg)
}
