package notifier

import (
	"context"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
)

// Notification is one fired alarm as shown to the user.
type Notification struct {
	DeliveryID    string    `json:"delivery_id"`
	LogicalID     string    `json:"logical_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body,omitempty"`
	FireAt        time.Time `json:"fire_at"`
	Color         string    `json:"color,omitempty"`
	Sound         string    `json:"sound,omitempty"`
	Vibration     []int64   `json:"vibration,omitempty"`
	SnoozeMinutes int       `json:"snooze_minutes,omitempty"`
	RepeatDaily   bool      `json:"repeat_daily,omitempty"`
	OpenTarget    string    `json:"open_target,omitempty"`
}

// FromSpec builds the notification for a fired delivery.
func FromSpec(deliveryID string, spec *alarm.DeliverySpec) Notification {
	return Notification{
		DeliveryID:    deliveryID,
		LogicalID:     spec.LogicalID,
		Title:         spec.Title,
		Body:          spec.Body,
		FireAt:        spec.FireAt(),
		Color:         spec.Color,
		Sound:         spec.Sound,
		Vibration:     spec.Vibration,
		SnoozeMinutes: spec.SnoozeMinutes,
		RepeatDaily:   spec.RepeatDaily,
		OpenTarget:    spec.OpenTarget,
	}
}

// Log writes notifications to the structured log.
type Log struct{}

// NewLog returns a log notifier.
func NewLog() *Log {
	return &Log{}
}

// Notify implements the fallback sink.
func (*Log) Notify(ctx context.Context, n Notification) error {
	logger.InfoKV(
		ctx,
		"Alarm fired",
		"title", n.Title,
		"body", n.Body,
		"logical_id", n.LogicalID,
		"delivery_id", n.DeliveryID,
		"color", n.Color,
		"sound", n.Sound,
	)

	return nil
}
