// Package errors provides error code definitions shared with the wire protocol.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to clients.
type ErrorCode string

const (
	// Authentication errors - fatal to the connection
	ErrAuthRequired ErrorCode = "AUTHENTICATION_REQUIRED"
	ErrInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"

	// Protocol errors - reject the offending operation only
	ErrRoomNotFound   ErrorCode = "ROOM_NOT_FOUND"
	ErrNotInRoom      ErrorCode = "NOT_IN_ROOM"
	ErrInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// Internal errors - backing store failures, unexpected conditions
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal for any
// error that did not originate from this package.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Fatal reports whether the code terminates the connection.
// Authentication failures close the link; protocol and internal
// errors reject only the offending operation.
func Fatal(code ErrorCode) bool {
	switch code {
	case ErrAuthRequired, ErrInvalidToken, ErrTokenExpired:
		return true
	}
	return false
}
