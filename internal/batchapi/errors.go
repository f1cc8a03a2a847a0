package batchapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request exchange. The kind decides the
// retry policy: transport and protocol failures are retryable at the
// poll step only and abort the workflow run everywhere else.
type ErrorKind string

const (
	// ErrorKindNone means the exchange succeeded.
	ErrorKindNone ErrorKind = ""

	// ErrorKindTransport covers connection and timeout failures where
	// no usable response was received.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindProtocol covers unexpected status codes and response
	// bodies missing required fields.
	ErrorKindProtocol ErrorKind = "protocol"
)

// StepError is the error type returned by all client operations.
type StepError struct {
	// Op is the logical operation name (e.g. "upload", "poll").
	Op string

	// Kind classifies the failure.
	Kind ErrorKind

	// StatusCode is the HTTP status, if a response was received.
	StatusCode int

	// Message describes what went wrong.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: %s (status %d)", e.Op, e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// transportError wraps a failure to complete the HTTP exchange.
func transportError(op string, err error) *StepError {
	return &StepError{Op: op, Kind: ErrorKindTransport, Err: err}
}

// protocolError marks an unexpected status or response shape.
func protocolError(op string, status int, message string) *StepError {
	return &StepError{Op: op, Kind: ErrorKindProtocol, StatusCode: status, Message: message}
}

// KindOf returns the error kind of err, or ErrorKindNone for nil.
// Non-StepError errors (e.g. context cancellation) are classified as
// transport failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindTransport
}
