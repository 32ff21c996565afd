package alarm

import "time"

// BackendKind identifies which delivery backend holds an alarm.
type BackendKind int

const (
	// BackendPrimary is the persistent, dismiss-required alarm facility.
	BackendPrimary BackendKind = iota + 1
	// BackendFallback is the best-effort notification facility.
	BackendFallback
)

// String returns the lowercase backend name used in logs and status output.
func (k BackendKind) String() string {
	switch k {
	case BackendPrimary:
		return "primary"
	case BackendFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle position of a scheduled alarm.
type Phase int

const (
	// PhaseScheduled means the backend holds the alarm and it has not fired.
	PhaseScheduled Phase = iota
	// PhaseDelivered means the backend reported the alarm fired.
	PhaseDelivered
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	if p == PhaseDelivered {
		return "delivered"
	}

	return "scheduled"
}

// ScheduledAlarm is one registry entry: the active schedule of a logical alarm.
type ScheduledAlarm struct {
	// LogicalID is the caller's key.
	LogicalID string
	// DeliveryID is assigned by the backend and changes on every reschedule.
	DeliveryID string
	// Backend is the backend that accepted the alarm.
	Backend BackendKind
	// FireAt is the normalized fire instant.
	FireAt time.Time
	// RepeatDaily mirrors the request flag.
	RepeatDaily bool
	// SnoozeMinutes is how far a snooze pushes this alarm.
	SnoozeMinutes int
	// Request is the original request, kept to rebuild the alarm on snooze.
	Request *Request
	// Phase tracks whether the backend reported delivery.
	Phase Phase
	// DeliveredAt is set once Phase becomes PhaseDelivered.
	DeliveredAt time.Time
}

// Clone returns a deep copy of the entry.
func (a *ScheduledAlarm) Clone() *ScheduledAlarm {
	if a == nil {
		return nil
	}

	cloned := *a
	cloned.Request = a.Request.Clone()

	return &cloned
}

// Armed is an alarm held by a backend engine, keyed by its delivery id.
type Armed struct {
	// DeliveryID is the backend-assigned id.
	DeliveryID string
	// Spec is the full payload the backend was given.
	Spec DeliverySpec
	// ArmedAt is when the backend accepted the alarm.
	ArmedAt time.Time
}

// Pending is an armed alarm together with its next fire instant.
type Pending struct {
	Armed

	// NextFireAt is the next time the alarm fires.
	NextFireAt time.Time
}
