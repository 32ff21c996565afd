package alarm

import (
	"fmt"
	"strings"
	"time"
)

// EventKind distinguishes delivery events.
type EventKind int

const (
	// EventDelivered reports that an alarm fired.
	EventDelivered EventKind = iota + 1
	// EventAction reports that the user pressed a button on a delivered alarm.
	EventAction
)

// String returns the lowercase kind name.
func (k EventKind) String() string {
	switch k {
	case EventDelivered:
		return "delivered"
	case EventAction:
		return "action"
	default:
		return "unknown"
	}
}

// Action is a user response to a delivered alarm.
type Action string

const (
	// ActionSnooze pushes the alarm by its snooze minutes.
	ActionSnooze Action = "snooze"
	// ActionDismiss ends the current occurrence.
	ActionDismiss Action = "dismiss"
)

// ParseAction accepts "snooze" or "dismiss" in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionSnooze, ActionDismiss:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// DeliveryEvent is reported by a backend, out of band from scheduling calls.
type DeliveryEvent struct {
	Kind       EventKind
	Backend    BackendKind
	DeliveryID string
	// Action is set for EventAction.
	Action Action
	// At is when the event happened at the backend.
	At time.Time
	// Spec is the payload the alarm was armed with, if the backend knows it.
	Spec *DeliverySpec
}

// Actor identifies who performed an action on a ringing alarm.
type Actor struct {
	// Hostname is the machine the action came from.
	Hostname string
	// Username is the system user who acted.
	Username string
}

// String renders the actor as user@host.
func (a *Actor) String() string {
	if a == nil {
		return "<unknown>"
	}

	return a.Username + "@" + a.Hostname
}

// Clone returns a copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}
