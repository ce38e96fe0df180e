// Package apperr defines the typed error taxonomy shared by the workflow
// services. Handlers never inspect messages; they switch on Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and for HTTP status mapping.
type Kind string

const (
	KindDuplicateAddress    Kind = "DuplicateAddress"
	KindInvalidHospitalCode Kind = "InvalidHospitalCode"
	KindNameMismatch        Kind = "NameMismatch"
	KindInvalidCredentials  Kind = "InvalidCredentials"
	KindSlotUnavailable     Kind = "SlotUnavailable"
	KindNotFound            Kind = "NotFound"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindValidation          Kind = "Validation"
	KindInternal            Kind = "Internal"
)

// Sentinels for errors.Is checks. An *Error matches the sentinel of its kind.
var (
	ErrDuplicateAddress    = &Error{Kind: KindDuplicateAddress, Message: "a facility is already registered at this address"}
	ErrInvalidHospitalCode = &Error{Kind: KindInvalidHospitalCode, Message: "invalid hospital code"}
	ErrNameMismatch        = &Error{Kind: KindNameMismatch, Message: "hospital name does not match the hospital code"}
	ErrInvalidCredentials  = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrSlotUnavailable     = &Error{Kind: KindSlotUnavailable, Message: "slot is not available"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
)

// Error is a classified failure with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrNotFound) holds for any
// NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return New(KindInvalidTransition, format, args...)
}

func SlotUnavailable(format string, args ...interface{}) *Error {
	return New(KindSlotUnavailable, format, args...)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the user-facing message of a classified error. Unclassified
// errors get a generic message so internals do not leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindDuplicateAddress, KindSlotUnavailable, KindInvalidTransition:
		return http.StatusConflict
	case KindInvalidHospitalCode, KindNameMismatch, KindValidation:
		return http.StatusBadRequest
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
