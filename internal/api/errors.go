package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/portal-bridge/internal/control"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/discovery"
	"github.com/nerrad567/portal-bridge/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeIncompatible = "incompatible"
	ErrCodeReadOnly     = "read_only"
	ErrCodeTypeMismatch = "type_mismatch"
	ErrCodeDispatch     = "dispatch_failed"
	ErrCodeAuthFailed   = "portal_auth_failed"
	ErrCodeUnavailable  = "service_unavailable"
	ErrCodePassRunning  = "discovery_running"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorMapping pairs a sentinel with its response. Order matters: the
// first match wins, so specific causes precede the errors that wrap them.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{control.ErrValidation, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrTypeMismatch, http.StatusConflict, ErrCodeTypeMismatch},
	{control.ErrIncompatible, http.StatusConflict, ErrCodeIncompatible},
	{control.ErrReadOnly, http.StatusConflict, ErrCodeReadOnly},
	{session.ErrAuthFailed, http.StatusBadGateway, ErrCodeAuthFailed},
	{control.ErrDispatch, http.StatusBadGateway, ErrCodeDispatch},
	{session.ErrSessionExpired, http.StatusBadGateway, ErrCodeDispatch},
	{discovery.ErrPassRunning, http.StatusConflict, ErrCodePassRunning},
	{discovery.ErrNotStarted, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// writeDomainError maps err to a status code and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeInternalError(w, "internal server error")
}
