// Package errors models the core's tagged errors as explicit values instead
// of relying on panics or ad-hoc string matching.
package errors

import (
	"errors"
	"fmt"
)

// Status is the JSON-serializable shape the HTTP surface renders an AppError
// as: { code, reason, message, metadata }.
type Status struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AppError is the project-wide tagged error. Reason is a short machine-stable
// token ("refresh_token_expired", "rate_limited", ...); Message is
// human-readable.
type AppError struct {
	Code     int32
	Reason   string
	Message  string
	Metadata map[string]string
	cause    error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// WithMetadata returns a copy of e with the given key/value merged in.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	clone.Metadata[key] = value
	return &clone
}

// New constructs an AppError with a fixed message.
func New(code int32, reason, message string) *AppError {
	return &AppError{Code: code, Reason: reason, Message: message}
}

// Newf constructs an AppError with a formatted message.
func Newf(code int32, reason, format string, args ...any) *AppError {
	return &AppError{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a reason/message to an underlying error without losing it
// (errors.Unwrap / errors.Is continue to work against cause).
func Wrap(code int32, reason, message string, cause error) *AppError {
	return &AppError{Code: code, Reason: reason, Message: message, cause: cause}
}

// FromError extracts an *AppError from err, synthesizing a generic
// "internal" AppError if err is not already tagged.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: 500, Reason: "internal", Message: err.Error(), cause: err}
}

// Is reports whether err is an AppError carrying the given reason.
func Is(err error, reason string) bool {
	appErr := FromError(err)
	return appErr != nil && appErr.Reason == reason
}
