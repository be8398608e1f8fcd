package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"evaltrack/internal/domain/errs"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *Error `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json failed", "err", err)
	}
}

func Success(w http.ResponseWriter, data any, requestID string) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data, RequestID: requestID})
}

func Created(w http.ResponseWriter, data any, requestID string) {
	WriteJSON(w, http.StatusCreated, Envelope{Success: true, Data: data, RequestID: requestID})
}

func Fail(w http.ResponseWriter, status int, code, message, requestID string) {
	WriteJSON(w, status, Envelope{Success: false, Error: &Error{Code: code, Message: message}, RequestID: requestID})
}

func FailWithDetails(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	WriteJSON(w, status, Envelope{Success: false, Error: &Error{Code: code, Message: message, Details: details}, RequestID: requestID})
}

// FailError maps a domain error to its status and code. Unknown errors are
// logged and reported as internal without leaking their text.
func FailError(w http.ResponseWriter, err error, requestID string) {
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "requestId", requestID, "err", err)
		Fail(w, status, code, "internal error", requestID)
		return
	}
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		FailWithDetails(w, status, code, err.Error(), map[string]any{
			"fields": []map[string]string{{"field": verr.Field, "reason": verr.Reason}},
		}, requestID)
		return
	}
	Fail(w, status, code, err.Error(), requestID)
}

func Status(err error) (int, string) {
	switch errs.Kind(err) {
	case errs.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case errs.ErrInvalidState:
		return http.StatusConflict, "invalid_state"
	case errs.ErrValidation:
		return http.StatusBadRequest, "validation_error"
	case errs.ErrConflict:
		return http.StatusConflict, "conflict"
	case errs.ErrAuth:
		return http.StatusUnauthorized, "unauthorized"
	case errs.ErrForbidden:
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal_error"
}
