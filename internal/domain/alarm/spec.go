package alarm

import (
	"slices"
	"time"
)

// SpecVersion is the current layout of DeliverySpec on the wire and on disk.
const SpecVersion = 1

// DeliverySpec is the payload every backend receives. It carries enough to
// rebuild a snooze in a process that never saw the original request.
type DeliverySpec struct {
	Version       int
	LogicalID     string
	Title         string
	Body          string
	FireAtMillis  int64
	Color         string
	Sound         string
	Vibration     []int64
	SnoozeMinutes int
	RepeatDaily   bool
	OpenTarget    string
	SnoozeLabel   string
	DismissLabel  string
	// HasSnooze and HasDismiss record which buttons were requested.
	HasSnooze  bool
	HasDismiss bool
}

// NewDeliverySpec builds the backend payload for req firing at fireAt.
// Missing sound, color and vibration take the package defaults.
func NewDeliverySpec(req *Request, fireAt time.Time, defaultSnooze int) DeliverySpec {
	spec := DeliverySpec{
		Version:       SpecVersion,
		LogicalID:     req.ID,
		Title:         req.Title,
		Body:          req.Body,
		FireAtMillis:  fireAt.UnixMilli(),
		Color:         req.Color,
		Sound:         req.Sound,
		Vibration:     slices.Clone(req.VibrationPattern),
		SnoozeMinutes: req.SnoozeMinutes(defaultSnooze),
		RepeatDaily:   req.RepeatDaily,
		OpenTarget:    req.OpenTarget,
	}

	if spec.Color == "" {
		spec.Color = DefaultColor
	}

	if spec.Sound == "" {
		spec.Sound = DefaultSound
	}

	if len(spec.Vibration) == 0 {
		spec.Vibration = DefaultVibration()
	}

	if snooze := req.Actions.Snooze; snooze != nil {
		spec.HasSnooze = true
		spec.SnoozeLabel = snooze.Label
	}

	if dismiss := req.Actions.Dismiss; dismiss != nil {
		spec.HasDismiss = true
		spec.DismissLabel = dismiss.Label
	}

	return spec
}

// FireAt returns the fire instant in UTC.
func (s *DeliverySpec) FireAt() time.Time {
	return time.UnixMilli(s.FireAtMillis).UTC()
}

// Request rebuilds the request the spec was derived from.
func (s *DeliverySpec) Request() *Request {
	req := &Request{
		ID:               s.LogicalID,
		Title:            s.Title,
		Body:             s.Body,
		ScheduledTime:    s.FireAt(),
		Color:            s.Color,
		Sound:            s.Sound,
		VibrationPattern: slices.Clone(s.Vibration),
		OpenTarget:       s.OpenTarget,
		RepeatDaily:      s.RepeatDaily,
	}

	if s.HasSnooze {
		req.Actions.Snooze = &SnoozeAction{Label: s.SnoozeLabel, Minutes: s.SnoozeMinutes}
	}

	if s.HasDismiss {
		req.Actions.Dismiss = &DismissAction{Label: s.DismissLabel}
	}

	return req
}

// Clone returns a copy that does not share the vibration slice.
func (s *DeliverySpec) Clone() DeliverySpec {
	cloned := *s
	cloned.Vibration = slices.Clone(s.Vibration)

	return cloned
}
