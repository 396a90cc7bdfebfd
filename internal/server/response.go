package server

import (
	"encoding/json"
	"net/http"

	"github.com/agentd-dev/agentd/pkg/types"
)

// ErrorResponse is the error envelope: the outer type repeats the error
// kind so clients can switch without descending into the body.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error kind and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps any error onto the envelope and its status code.
func writeError(w http.ResponseWriter, err error) {
	serr := types.AsSessionError(err)
	writeJSON(w, statusFor(serr.Name), ErrorResponse{
		Type: string(serr.Name),
		Error: ErrorDetail{
			Type:    string(serr.Name),
			Message: serr.Data.Message,
		},
	})
}

// writeBadRequest reports a malformed request body or parameter.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Type:  string(types.ErrorUnknown),
		Error: ErrorDetail{Type: string(types.ErrorUnknown), Message: message},
	})
}

func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.ErrorNotFound:
		return http.StatusNotFound
	case types.ErrorBusy:
		return http.StatusConflict
	case types.ErrorPermissionDenied, types.ErrorToolBlocked:
		return http.StatusForbidden
	case types.ErrorAuth:
		return http.StatusUnauthorized
	case types.ErrorAborted:
		return http.StatusBadRequest
	case types.ErrorOverflow, types.ErrorOutputLength:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
