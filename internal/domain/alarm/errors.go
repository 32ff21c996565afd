package alarm

import (
	"errors"
	"fmt"
)

// Reason classifies a backend failure.
type Reason int

const (
	// ReasonTransport is a bridge or call failure with an opaque cause.
	ReasonTransport Reason = iota
	// ReasonUnsupported means the backend is not available here.
	ReasonUnsupported
	// ReasonPermissionDenied means the user or OS declined.
	ReasonPermissionDenied
	// ReasonPastTime means the backend refused an instant at or before now.
	ReasonPastTime
)

var (
	// ErrTransport matches ReasonTransport failures.
	ErrTransport = errors.New("transport error")
	// ErrUnsupported matches ReasonUnsupported failures.
	ErrUnsupported = errors.New("backend unsupported")
	// ErrPermissionDenied matches ReasonPermissionDenied failures.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPastTime matches ReasonPastTime failures.
	ErrPastTime = errors.New("fire time is not in the future")
	// ErrUnknownDeliveryID is reported for events or actions on ids nobody holds.
	ErrUnknownDeliveryID = errors.New("unknown delivery id")
)

// String returns the reason tag.
func (r Reason) String() string {
	switch r {
	case ReasonUnsupported:
		return "Unsupported"
	case ReasonPermissionDenied:
		return "PermissionDenied"
	case ReasonPastTime:
		return "PastTime"
	default:
		return "TransportError"
	}
}

// sentinel returns the error matching r.
func (r Reason) sentinel() error {
	switch r {
	case ReasonUnsupported:
		return ErrUnsupported
	case ReasonPermissionDenied:
		return ErrPermissionDenied
	case ReasonPastTime:
		return ErrPastTime
	default:
		return ErrTransport
	}
}

// BackendError is a failed backend call.
type BackendError struct {
	Backend BackendKind
	Reason  Reason
	// Err is the underlying cause, may be nil.
	Err error
}

// NewBackendError builds a BackendError for kind.
func NewBackendError(kind BackendKind, reason Reason, err error) *BackendError {
	return &BackendError{Backend: kind, Reason: reason, Err: err}
}

// Error implements error.
func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s backend: %s", e.Backend, e.Reason)
	}

	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Reason, e.Err)
}

// Unwrap exposes both the reason sentinel and the cause.
func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason.sentinel()}
	}

	return []error{e.Reason.sentinel(), e.Err}
}

// ReasonOf classifies err. Unclassified errors are transport errors.
func ReasonOf(err error) Reason {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Reason
	}

	switch {
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrPastTime):
		return ReasonPastTime
	default:
		return ReasonTransport
	}
}

// SchedulingError is returned once every backend refused an alarm.
type SchedulingError struct {
	LogicalID string
	Primary   error
	Fallback  error
}

// Error implements error.
func (e *SchedulingError) Error() string {
	return fmt.Sprintf(
		"schedule alarm %q: primary: %s (%v); fallback: %s (%v)",
		e.LogicalID,
		ReasonOf(e.Primary), e.Primary,
		ReasonOf(e.Fallback), e.Fallback,
	)
}

// Unwrap exposes both backend failures.
func (e *SchedulingError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// Reason is the reason of the last backend tried.
func (e *SchedulingError) Reason() Reason {
	return ReasonOf(e.Fallback)
}
