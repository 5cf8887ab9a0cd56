// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/logging"
	"github.com/holomush/taskd/pkg/errutil"
)

// Error codes produced by the HTTP layer itself.
const (
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

// MessageData is the payload of endpoints that only confirm an action.
type MessageData struct {
	Message string `json:"message"`
}

// statusByCode maps client-facing codes to HTTP statuses. Anything else is
// an internal failure.
var statusByCode = map[string]int{
	auth.CodeAlreadyExists:       http.StatusConflict,
	auth.CodeInvalidCredentials:  http.StatusUnauthorized,
	auth.CodeInvalidRefreshToken: http.StatusUnauthorized,
	auth.CodeRefreshTokenExpired: http.StatusUnauthorized,
	auth.CodeUserNotFound:        http.StatusNotFound,
	auth.CodeMissingToken:        http.StatusUnauthorized,
	auth.CodeInvalidToken:        http.StatusUnauthorized,
	auth.CodeInvalidResetToken:   http.StatusBadRequest,
	auth.CodeValidation:          http.StatusBadRequest,
	CodeMethodNotAllowed:         http.StatusMethodNotAllowed,
	CodeNotFound:                 http.StatusNotFound,
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are sent; an encode failure cannot be reported to the client.
	_ = json.NewEncoder(w).Encode(v) //nolint:errchkjson // best effort
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	body.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, status, Response{Error: &body})
}

// writeError renders err. Coded client errors keep their message; anything
// else is logged and reported as INTERNAL_SERVER_ERROR.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeFailure(w, r, http.StatusBadRequest, ErrorBody{
			Code:    auth.CodeValidation,
			Message: verr.Error(),
			Fields:  verr.Fields(),
		})
		return
	}

	code := errutil.Code(err)
	status := StatusFor(code)
	if status == http.StatusInternalServerError {
		errutil.LogError(r.Context(), logging.FromContext(r.Context()), "request failed", err)
		writeFailure(w, r, status, ErrorBody{Code: CodeInternal, Message: "internal server error"})
		return
	}

	writeFailure(w, r, status, ErrorBody{Code: code, Message: err.Error()})
}
