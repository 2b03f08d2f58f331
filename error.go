package vpwcore

import (
	"errors"
	"fmt"
)

// Reason is the error taxonomy every core operation fails with.
type Reason int

const (
	ReasonError Reason = iota
	ReasonTruncated
	ReasonUnexpectedResponse
	ReasonTimeout
	ReasonCancelled
	ReasonRefused
)

func (r Reason) String() string {
	switch r {
	case ReasonTruncated:
		return "Truncated"
	case ReasonUnexpectedResponse:
		return "UnexpectedResponse"
	case ReasonTimeout:
		return "Timeout"
	case ReasonCancelled:
		return "Cancelled"
	case ReasonRefused:
		return "Refused"
	default:
		return "Error"
	}
}

// ObdError is the single error type the core returns; Reason lets callers
// branch without string matching, Cause carries the underlying error when
// one exists.
type ObdError struct {
	Reason Reason
	Msg    string
	Cause  error
}

func (e *ObdError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Msg, e.Cause)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
	}
	return e.Reason.String()
}

func (e *ObdError) Unwrap() error { return e.Cause }

func NewError(reason Reason, msg string) *ObdError {
	return &ObdError{Reason: reason, Msg: msg}
}

func WrapError(reason Reason, msg string, cause error) *ObdError {
	return &ObdError{Reason: reason, Msg: msg, Cause: cause}
}

// ReasonOf extracts the Reason from err, defaulting to ReasonError for any
// err that isn't an *ObdError (including nil callers shouldn't pass).
func ReasonOf(err error) Reason {
	var oe *ObdError
	if errors.As(err, &oe) {
		return oe.Reason
	}
	return ReasonError
}

var (
	ErrNilDevice          = errors.New("device is nil")
	ErrDroppedFrame       = errors.New("device receive queue full, frame dropped")
	ErrSendTimeout        = errors.New("timeout sending frame")
	ErrUnknownKeyAlgo     = errors.New("unknown security-access key algorithm")
	ErrRLENotImplemented  = errors.New("RLE memory-read sub-mode is not implemented")
	ErrAlreadyDisposed    = errors.New("device already disposed")
)

type unrecoverableError struct{ error }

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error { return e.error }

// Unrecoverable marks err so IsRecoverable reports false, telling a retry
// loop (avast/retry-go's RetryIf) to stop instead of spending its budget.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverableError{err}
}

// IsRecoverable reports whether a retry loop should keep trying after err.
func IsRecoverable(err error) bool {
	_, ok := err.(unrecoverableError)
	return !ok
}
