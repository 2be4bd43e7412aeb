package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a remote call failure. The orchestrator branches on
// the kind as plain data: transient failures are retried on later cycles,
// auth failures trigger one credential refresh, permanent failures kill the
// specific work item.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindAuth      ErrorKind = "auth"
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified remote call failure.
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP status, 0 for network-level failures
	Message string
	Cause   error // underlying network error, nil for HTTP responses
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the network-level cause so callers can detect things like
// context cancellation with errors.Is.
func (e *Error) Unwrap() error {
	return e.Cause
}

// kindOf maps an HTTP status to an error kind. Anything the client could
// not have caused (timeouts, throttling, server faults) is transient.
func kindOf(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

// transientErr wraps a network-level failure (no HTTP response).
func transientErr(err error) *Error {
	return &Error{Kind: KindTransient, Message: err.Error(), Cause: err}
}

// IsTransient reports whether err is a transient remote failure.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindTransient
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindAuth
}

// IsPermanent reports whether err is a permanent (validation) failure.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindPermanent
}
