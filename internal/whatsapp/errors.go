package whatsapp

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by Send when the slot's session is not open.
	ErrNotConnected = errors.New("whatsapp: slot not connected")
	// ErrUnknownSlot is returned for operations on a slot that is not configured.
	ErrUnknownSlot = errors.New("whatsapp: unknown slot")
	// ErrTransport wraps a send the session accepted but the transport rejected.
	ErrTransport = errors.New("whatsapp: transport error")
	// ErrInvalidRequest is returned when recipient or body is empty.
	ErrInvalidRequest = errors.New("whatsapp: invalid request")
	// ErrTerminated is returned when starting a session that was stopped.
	ErrTerminated = errors.New("whatsapp: session terminated")
)

// Failure reasons reported to API callers.
const (
	FailureNotConnected   = "NotConnected"
	FailureUnknownSlot    = "UnknownSlot"
	FailureTransportError = "TransportError"
	FailureInvalidRequest = "InvalidRequest"
)

// FailureReason maps a send error to its caller-facing reason. It returns ""
// for a nil error.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected):
		return FailureNotConnected
	case errors.Is(err, ErrUnknownSlot):
		return FailureUnknownSlot
	case errors.Is(err, ErrInvalidRequest):
		return FailureInvalidRequest
	default:
		return FailureTransportError
	}
}

// transportError keeps the underlying transport failure while matching ErrTransport.
type transportError struct {
	cause error
}

func (e *transportError) Error() string {
	return ErrTransport.Error() + ": " + e.cause.Error()
}

func (e *transportError) Is(target error) bool { return target == ErrTransport }

func (e *transportError) Unwrap() error { return e.cause }
