package types

import (
	"context"
	"errors"
)

// ErrorKind is the canonical error taxonomy carried in API payloads and
// recorded on assistant messages.
type ErrorKind string

const (
	ErrorAborted          ErrorKind = "Aborted"
	ErrorAuth             ErrorKind = "AuthError"
	ErrorOutputLength     ErrorKind = "OutputLengthError"
	ErrorOverflow         ErrorKind = "OverflowError"
	ErrorBusy             ErrorKind = "Busy"
	ErrorToolBlocked      ErrorKind = "ToolBlocked"
	ErrorPermissionDenied ErrorKind = "PermissionDenied"
	ErrorNotFound         ErrorKind = "NotFound"
	ErrorUnknown          ErrorKind = "Unknown"
)

// SessionError is the structured error recorded on messages and returned by
// the API. Format: {"name": "...", "data": {"message": "..."}}.
type SessionError struct {
	Name ErrorKind `json:"name"`
	Data ErrorData `json:"data"`
}

// ErrorData contains the error details.
type ErrorData struct {
	Message    string `json:"message"`
	ProviderID string `json:"providerID,omitempty"`
}

func (e *SessionError) Error() string {
	if e.Data.Message == "" {
		return string(e.Name)
	}
	return string(e.Name) + ": " + e.Data.Message
}

// NewError creates a SessionError of the given kind.
func NewError(kind ErrorKind, message string) *SessionError {
	return &SessionError{Name: kind, Data: ErrorData{Message: message}}
}

// NewAuthError creates a provider credential rejection error.
func NewAuthError(providerID, message string) *SessionError {
	return &SessionError{
		Name: ErrorAuth,
		Data: ErrorData{Message: message, ProviderID: providerID},
	}
}

// KindOf classifies an arbitrary error into the taxonomy. Context
// cancellation maps to Aborted; unclassified errors map to Unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Name
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorAborted
	}
	return ErrorUnknown
}

// AsSessionError converts an arbitrary error into a SessionError, preserving
// an existing one.
func AsSessionError(err error) *SessionError {
	if err == nil {
		return nil
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	return NewError(KindOf(err), err.Error())
}
