// Package apperr defines the error taxonomy shared by every lab workflow
// operation and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindForbidden             Kind = "forbidden"
	KindUnauthenticated       Kind = "unauthenticated"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindInternal              Kind = "internal"
)

// Sentinels usable with errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrValidation            = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrNotFound              = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict              = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrForbidden             = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated, Msg: "unauthenticated"}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable, Msg: "dependency unavailable"}
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, apperr.ErrConflict) works
// for any conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...interface{}) error   { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...interface{}) error   { return newf(KindConflict, format, args...) }
func Forbidden(format string, args ...interface{}) error  { return newf(KindForbidden, format, args...) }

func Unauthenticated(format string, args ...interface{}) error {
	return newf(KindUnauthenticated, format, args...)
}

// Unavailable wraps a backing-store failure.
func Unavailable(cause error, format string, args ...interface{}) error {
	e := newf(KindDependencyUnavailable, format, args...)
	e.Err = cause
	return e
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo HTTP error. Internal errors are not echoed
// back to the client verbatim.
func ToHTTP(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
