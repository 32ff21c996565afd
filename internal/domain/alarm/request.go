package alarm

import (
	"slices"
	"time"
)

const (
	// DefaultSnoozeMinutes applies when a request has no snooze action.
	DefaultSnoozeMinutes = 5
	// DefaultSound is the platform sound name used when none is given.
	DefaultSound = "alarm_sound"
	// DefaultColor is the accent color used when none is given.
	DefaultColor = "red"
)

// DefaultVibration returns the off/on pattern in milliseconds used when a
// request has none.
func DefaultVibration() []int64 {
	return []int64{0, 1000, 1000, 1000, 1000, 1000}
}

// SnoozeAction describes the snooze button of a delivered alarm.
type SnoozeAction struct {
	// Label is the button caption.
	Label string
	// Minutes is how far a snooze pushes the alarm.
	Minutes int
}

// DismissAction describes the dismiss button of a delivered alarm.
type DismissAction struct {
	// Label is the button caption.
	Label string
}

// Actions lists the optional buttons of a delivered alarm.
type Actions struct {
	Snooze  *SnoozeAction
	Dismiss *DismissAction
}

// Request is what a caller asks to schedule.
type Request struct {
	// ID is the caller-defined logical key. It is stable across snoozes.
	ID string
	// Title is the headline shown when the alarm fires.
	Title string
	// Body is the text shown under the title.
	Body string
	// ScheduledTime is the requested absolute fire instant.
	ScheduledTime time.Time
	// Color is the accent color of the alert.
	Color string
	// Sound names the sound to play.
	Sound string
	// VibrationPattern alternates off/on durations in milliseconds.
	VibrationPattern []int64
	// Actions are the optional snooze and dismiss buttons.
	Actions Actions
	// OpenTarget is an opaque routing string handed back on open.
	OpenTarget string
	// RepeatDaily re-fires the alarm at the same wall-clock time every day.
	RepeatDaily bool
}

// SnoozeMinutes returns the snooze length, falling back to fallback and
// then to DefaultSnoozeMinutes.
func (r *Request) SnoozeMinutes(fallback int) int {
	if r.Actions.Snooze != nil && r.Actions.Snooze.Minutes > 0 {
		return r.Actions.Snooze.Minutes
	}

	if fallback > 0 {
		return fallback
	}

	return DefaultSnoozeMinutes
}

// Clone returns a deep copy so registry snapshots never alias caller memory.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.VibrationPattern = slices.Clone(r.VibrationPattern)

	if r.Actions.Snooze != nil {
		snooze := *r.Actions.Snooze
		cloned.Actions.Snooze = &snooze
	}

	if r.Actions.Dismiss != nil {
		dismiss := *r.Actions.Dismiss
		cloned.Actions.Dismiss = &dismiss
	}

	return &cloned
}
