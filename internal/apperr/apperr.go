// Package apperr defines the error kinds shared by every stackdeck component.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	Validation         Kind = "validation"
	NotFound           Kind = "not_found"
	AlreadyExists      Kind = "already_exists"
	Unauthorized       Kind = "unauthorized"
	InvalidCredentials Kind = "invalid_credentials"
	SetupRequired      Kind = "setup_required"
	AlreadyInitialized Kind = "already_initialized"
	RateLimited        Kind = "rate_limited"
	ProcessFailure     Kind = "process_failure"
	Timeout            Kind = "timeout"
	ResourceBusy       Kind = "resource_busy"
	IOFailure          Kind = "io_failure"
	Internal           Kind = "internal"
)

// Error is a classified error. Two errors match under errors.Is when their
// kinds are equal.
type Error struct {
	Kind       Kind
	Message    string
	ExitCode   int
	Stderr     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinels like ErrNotFound can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &Error{Kind: Validation}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrAlreadyExists      = &Error{Kind: AlreadyExists}
	ErrUnauthorized       = &Error{Kind: Unauthorized}
	ErrInvalidCredentials = &Error{Kind: InvalidCredentials}
	ErrSetupRequired      = &Error{Kind: SetupRequired}
	ErrAlreadyInitialized = &Error{Kind: AlreadyInitialized}
	ErrRateLimited        = &Error{Kind: RateLimited}
	ErrProcessFailure     = &Error{Kind: ProcessFailure}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrResourceBusy       = &Error{Kind: ResourceBusy}
	ErrIOFailure          = &Error{Kind: IOFailure}
)

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Process reports a non-zero exit of an external command.
func Process(exitCode int, stderr string) *Error {
	return &Error{
		Kind:     ProcessFailure,
		Message:  fmt.Sprintf("command exited with code %d", exitCode),
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

// Limited reports a rejected call and when the caller may retry.
func Limited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       RateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus maps a kind onto a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized, InvalidCredentials:
		return http.StatusUnauthorized
	case AlreadyExists, AlreadyInitialized, SetupRequired, ResourceBusy:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case ProcessFailure:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
