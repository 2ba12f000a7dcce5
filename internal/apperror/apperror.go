// Package apperror defines the typed error taxonomy shared by the store,
// executor, and HTTP layer so that a single switch at the edge can map any
// internal failure onto the right status code and log level.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for status-code mapping and retry policy.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindExecutionFailure  Kind = "execution_failure"
	KindTimeout           Kind = "timeout"
	KindTransientStore    Kind = "transient_store_error"
	KindShutdownInProcess Kind = "shutdown_in_progress"
)

// Error is the single typed error every package in this module returns for
// anything that should be visible to a caller as more than "something broke".
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, nil, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, nil, format, args...)
}

func ExecutionFailure(err error, format string, args ...interface{}) *Error {
	return newf(KindExecutionFailure, err, format, args...)
}

func Timeout(format string, args ...interface{}) *Error {
	return newf(KindTimeout, nil, format, args...)
}

func TransientStore(err error, format string, args ...interface{}) *Error {
	return newf(KindTransientStore, err, format, args...)
}

func ShutdownInProgress(format string, args ...interface{}) *Error {
	return newf(KindShutdownInProcess, nil, format, args...)
}

// As unwraps err into an *Error, returning ok=false for anything else.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code the HTTP surface should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindTransientStore, KindShutdownInProcess:
		return http.StatusServiceUnavailable
	case KindExecutionFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
