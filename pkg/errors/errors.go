package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrValidation ErrorCode = iota + 1000
	ErrNotFound
	ErrInvalidState
	ErrAlreadyResolved
	ErrAlreadyTerminal
	ErrDispatchFailure
	ErrUnauthorized
	ErrInternal
)

// Error constructors
func NewValidation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewInvalidState(message string, err error) *AppError {
	return &AppError{
		Code:    ErrInvalidState,
		Message: message,
		Err:     err,
	}
}

// NewAlreadyResolved marks a donor response that arrived after the
// request reached a terminal or satisfied state. Callers acknowledge it
// as a no-op rather than an error.
func NewAlreadyResolved(message string) *AppError {
	return &AppError{
		Code:    ErrAlreadyResolved,
		Message: message,
	}
}

func NewAlreadyTerminal(message string) *AppError {
	return &AppError{
		Code:    ErrAlreadyTerminal,
		Message: message,
	}
}

// NewDispatchFailure wraps a notification channel error. Dispatch
// failures are recovered locally and never fail a wave.
func NewDispatchFailure(channel string, err error) *AppError {
	return &AppError{
		Code:    ErrDispatchFailure,
		Message: fmt.Sprintf("failed to dispatch via %s", channel),
		Err:     err,
	}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: message,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// CodeOf extracts the application error code, or ErrInternal for
// anything that is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool        { return IsCode(err, ErrNotFound) }
func IsValidation(err error) bool      { return IsCode(err, ErrValidation) }
func IsAlreadyResolved(err error) bool { return IsCode(err, ErrAlreadyResolved) }
func IsAlreadyTerminal(err error) bool { return IsCode(err, ErrAlreadyTerminal) }
func IsInvalidState(err error) bool    { return IsCode(err, ErrInvalidState) }
