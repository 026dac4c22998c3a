package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell retryable outcomes from
// terminal ones without matching on message text.
type ErrorKind string

const (
	KindThrottled           ErrorKind = "throttled"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindInvalidBookingState ErrorKind = "invalid_booking_state"
	KindGatewayRejected     ErrorKind = "gateway_rejected"
	KindGatewayUnavailable  ErrorKind = "gateway_unavailable"
	KindConfiguration       ErrorKind = "configuration_error"
	KindSignatureInvalid    ErrorKind = "signature_invalid"
	KindEventInFlight       ErrorKind = "event_in_flight"
	KindNotFound            ErrorKind = "not_found"
	KindValidation          ErrorKind = "validation"
	KindForbidden           ErrorKind = "forbidden"
)

type Error struct {
	Kind        ErrorKind
	Message     string
	RetryAfter  int
	DeclineCode string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrThrottled)
// holds for every throttling error regardless of its details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrThrottled           = &Error{Kind: KindThrottled}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrInvalidBookingState = &Error{Kind: KindInvalidBookingState}
	ErrGatewayRejected     = &Error{Kind: KindGatewayRejected}
	ErrGatewayUnavailable  = &Error{Kind: KindGatewayUnavailable}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrSignatureInvalid    = &Error{Kind: KindSignatureInvalid}
	ErrEventInFlight       = &Error{Kind: KindEventInFlight}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

func Throttled(retryAfter int) error {
	return &Error{Kind: KindThrottled, Message: "too many requests", RetryAfter: retryAfter}
}

func InvalidTransition(from, to BookingStatus, reason string) error {
	msg := fmt.Sprintf("cannot move booking from %s to %s", from, to)
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{Kind: KindInvalidTransition, Message: msg}
}

func InvalidBookingState(format string, args ...any) error {
	return &Error{Kind: KindInvalidBookingState, Message: fmt.Sprintf(format, args...)}
}

func GatewayRejected(code, message string, err error) error {
	if message == "" {
		message = "payment was declined"
	}
	return &Error{Kind: KindGatewayRejected, Message: message, DeclineCode: code, Err: err}
}

func GatewayUnavailable(err error) error {
	return &Error{Kind: KindGatewayUnavailable, Message: "payment provider temporarily unavailable", RetryAfter: 5, Err: err}
}

func Configuration(err error) error {
	return &Error{Kind: KindConfiguration, Message: "payment provider misconfigured", Err: err}
}

func SignatureInvalid(reason string) error {
	return &Error{Kind: KindSignatureInvalid, Message: reason}
}

func EventInFlight(key IdempotencyKey) error {
	return &Error{Kind: KindEventInFlight, Message: fmt.Sprintf("event %s is already being processed", key), RetryAfter: 2}
}

func NotFound(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when the
// error is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfterOf returns the retry hint in seconds carried by err, if any.
func RetryAfterOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether the same request may succeed later unchanged.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindGatewayUnavailable, KindEventInFlight, KindThrottled:
		return true
	}
	return false
}
