package alarmd

import (
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// Spec is the wire form of alarm.DeliverySpec.
type Spec struct {
	Version       int     `json:"version"`
	LogicalID     string  `json:"logical_id"`
	Title         string  `json:"title"`
	Body          string  `json:"body,omitempty"`
	FireAtMillis  int64   `json:"fire_at_millis"`
	Color         string  `json:"color,omitempty"`
	Sound         string  `json:"sound,omitempty"`
	Vibration     []int64 `json:"vibration,omitempty"`
	SnoozeMinutes int     `json:"snooze_minutes"`
	RepeatDaily   bool    `json:"repeat_daily,omitempty"`
	OpenTarget    string  `json:"open_target,omitempty"`
	SnoozeLabel   string  `json:"snooze_label,omitempty"`
	DismissLabel  string  `json:"dismiss_label,omitempty"`
	HasSnooze     bool    `json:"has_snooze,omitempty"`
	HasDismiss    bool    `json:"has_dismiss,omitempty"`
}

// Actor is the wire form of alarm.Actor.
type Actor struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

// ScheduleRequest arms one alarm.
type ScheduleRequest struct {
	Spec *Spec `json:"spec"`
}

// ScheduleResponse carries the daemon-assigned delivery id.
type ScheduleResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// PendingAlarm is one armed alarm.
type PendingAlarm struct {
	DeliveryID       string `json:"delivery_id"`
	Spec             *Spec  `json:"spec"`
	ArmedAtMillis    int64  `json:"armed_at_millis"`
	NextFireAtMillis int64  `json:"next_fire_at_millis"`
}

// ListPendingResponse lists armed alarms ordered by next fire time.
type ListPendingResponse struct {
	Alarms []*PendingAlarm `json:"alarms"`
}

// ActRequest reports a user action on a ringing alarm.
type ActRequest struct {
	DeliveryID string `json:"delivery_id"`
	Action     string `json:"action"`
	Actor      *Actor `json:"actor,omitempty"`
}

// Event is one delivery event on the Events stream.
type Event struct {
	Kind       string `json:"kind"`
	DeliveryID string `json:"delivery_id"`
	Action     string `json:"action,omitempty"`
	AtMillis   int64  `json:"at_millis"`
	Spec       *Spec  `json:"spec,omitempty"`
}

// SpecFromDomain converts a delivery spec to its wire form.
func SpecFromDomain(spec *alarm.DeliverySpec) *Spec {
	if spec == nil {
		return nil
	}

	return &Spec{
		Version:       spec.Version,
		LogicalID:     spec.LogicalID,
		Title:         spec.Title,
		Body:          spec.Body,
		FireAtMillis:  spec.FireAtMillis,
		Color:         spec.Color,
		Sound:         spec.Sound,
		Vibration:     append([]int64(nil), spec.Vibration...),
		SnoozeMinutes: spec.SnoozeMinutes,
		RepeatDaily:   spec.RepeatDaily,
		OpenTarget:    spec.OpenTarget,
		SnoozeLabel:   spec.SnoozeLabel,
		DismissLabel:  spec.DismissLabel,
		HasSnooze:     spec.HasSnooze,
		HasDismiss:    spec.HasDismiss,
	}
}

// ToDomain converts the wire spec back to a delivery spec.
func (s *Spec) ToDomain() alarm.DeliverySpec {
	return alarm.DeliverySpec{
		Version:       s.Version,
		LogicalID:     s.LogicalID,
		Title:         s.Title,
		Body:          s.Body,
		FireAtMillis:  s.FireAtMillis,
		Color:         s.Color,
		Sound:         s.Sound,
		Vibration:     append([]int64(nil), s.Vibration...),
		SnoozeMinutes: s.SnoozeMinutes,
		RepeatDaily:   s.RepeatDaily,
		OpenTarget:    s.OpenTarget,
		SnoozeLabel:   s.SnoozeLabel,
		DismissLabel:  s.DismissLabel,
		HasSnooze:     s.HasSnooze,
		HasDismiss:    s.HasDismiss,
	}
}

// ActorFromDomain converts an actor to its wire form.
func ActorFromDomain(actor *alarm.Actor) *Actor {
	if actor == nil {
		return nil
	}

	return &Actor{Hostname: actor.Hostname, Username: actor.Username}
}

// ToDomain converts the wire actor to a domain actor.
func (a *Actor) ToDomain() *alarm.Actor {
	if a == nil {
		return nil
	}

	return &alarm.Actor{Hostname: a.Hostname, Username: a.Username}
}

// PendingFromDomain converts a pending alarm to its wire form.
func PendingFromDomain(p *alarm.Pending) *PendingAlarm {
	return &PendingAlarm{
		DeliveryID:       p.DeliveryID,
		Spec:             SpecFromDomain(&p.Spec),
		ArmedAtMillis:    millis(p.ArmedAt),
		NextFireAtMillis: millis(p.NextFireAt),
	}
}

// ToDomain converts the wire pending alarm to a domain one.
func (p *PendingAlarm) ToDomain() alarm.Pending {
	result := alarm.Pending{
		Armed: alarm.Armed{
			DeliveryID: p.DeliveryID,
			ArmedAt:    fromMillis(p.ArmedAtMillis),
		},
		NextFireAt: fromMillis(p.NextFireAtMillis),
	}

	if p.Spec != nil {
		result.Spec = p.Spec.ToDomain()
	}

	return result
}

// EventFromDomain converts a delivery event to its wire form.
func EventFromDomain(ev *alarm.DeliveryEvent) *Event {
	return &Event{
		Kind:       ev.Kind.String(),
		DeliveryID: ev.DeliveryID,
		Action:     string(ev.Action),
		AtMillis:   millis(ev.At),
		Spec:       SpecFromDomain(ev.Spec),
	}
}

// ToDomain converts the wire event to a delivery event reported by backend.
func (e *Event) ToDomain(backend alarm.BackendKind) alarm.DeliveryEvent {
	ev := alarm.DeliveryEvent{
		Backend:    backend,
		DeliveryID: e.DeliveryID,
		Action:     alarm.Action(e.Action),
		At:         fromMillis(e.AtMillis),
	}

	switch e.Kind {
	case alarm.EventDelivered.String():
		ev.Kind = alarm.EventDelivered
	case alarm.EventAction.String():
		ev.Kind = alarm.EventAction
	}

	if e.Spec != nil {
		spec := e.Spec.ToDomain()
		ev.Spec = &spec
	}

	return ev
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}
