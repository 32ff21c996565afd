package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/registry"
)

// Scheduler is the part of the scheduler the handler drives.
type Scheduler interface {
	Replace(ctx context.Context, deliveryID string, req *alarm.Request) (*alarm.ScheduledAlarm, error)
	CancelDelivery(ctx context.Context, logicalID, deliveryID string) bool
	AdvanceRepeat(ctx context.Context, logicalID, deliveryID string, at time.Time) bool
}

// Handler applies delivery events. It never returns errors: stale or malformed
// events are logged and dropped.
type Handler struct {
	registry  *registry.Registry
	scheduler Scheduler
	now       func() time.Time
}

// NewHandler wires a handler over reg and sched.
func NewHandler(reg *registry.Registry, sched Scheduler) *Handler {
	return &Handler{
		registry:  reg,
		scheduler: sched,
		now:       time.Now,
	}
}

// Run handles events until ctx is done or events is closed.
func (h *Handler) Run(ctx context.Context, events <-chan alarm.DeliveryEvent) {
	ctx = logger.WithName(ctx, "action-handler")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			h.Handle(ctx, ev)
		}
	}
}

// Handle applies a single event.
func (h *Handler) Handle(ctx context.Context, ev alarm.DeliveryEvent) {
	ctx = logger.WithKV(ctx, "delivery_id", ev.DeliveryID, "backend", ev.Backend.String())

	if ev.DeliveryID == "" {
		logger.Warn(ctx, "Dropping delivery event without delivery id")
		return
	}

	at := ev.At
	if at.IsZero() {
		at = h.now()
	}

	switch ev.Kind {
	case alarm.EventDelivered:
		if !h.registry.MarkDelivered(ev.DeliveryID, at) {
			logger.WarnKV(ctx, "Dropping delivered event", "error", alarm.ErrUnknownDeliveryID)
			return
		}

		logger.InfoKV(ctx, "Alarm delivered", "at", at)
	case alarm.EventAction:
		entry, ok := h.registry.FindByDeliveryID(ev.DeliveryID)
		if !ok {
			logger.WarnKV(ctx, "Dropping stale action event", "action", string(ev.Action), "error", alarm.ErrUnknownDeliveryID)
			return
		}

		ctx = logger.WithKV(ctx, "logical_id", entry.LogicalID)

		switch ev.Action {
		case alarm.ActionSnooze:
			h.snooze(ctx, entry, ev, at)
		case alarm.ActionDismiss:
			h.dismiss(ctx, entry, at)
		default:
			logger.WarnKV(ctx, "Dropping action event with unknown action", "action", string(ev.Action))
		}
	default:
		logger.WarnKV(ctx, "Dropping delivery event of unknown kind", "kind", int(ev.Kind))
	}
}

// snooze replaces the alarm with a one-shot firing snooze minutes after at.
func (h *Handler) snooze(ctx context.Context, entry *alarm.ScheduledAlarm, ev alarm.DeliveryEvent, at time.Time) {
	req := entry.Request.Clone()
	if req == nil && ev.Spec != nil {
		req = ev.Spec.Request()
	}

	if req == nil {
		logger.Warn(ctx, "Dropping snooze: original request is unknown")
		return
	}

	minutes := entry.SnoozeMinutes
	if minutes <= 0 && ev.Spec != nil {
		minutes = ev.Spec.SnoozeMinutes
	}

	if minutes <= 0 {
		minutes = alarm.DefaultSnoozeMinutes
	}

	req.ID = entry.LogicalID
	req.RepeatDaily = false
	req.Title = snoozedTitle(req.Title)
	req.Body = fmt.Sprintf("Alarm snoozed for %d minutes", minutes)
	req.ScheduledTime = at.Add(time.Duration(minutes) * time.Minute)

	if req.Actions.Snooze != nil {
		req.Actions.Snooze.Minutes = minutes
	}

	scheduled, err := h.scheduler.Replace(ctx, entry.DeliveryID, req)
	switch {
	case err == nil:
		logger.InfoKV(ctx, "Alarm snoozed", "minutes", minutes, "fire_at", scheduled.FireAt, "new_delivery_id", scheduled.DeliveryID)
	case errors.Is(err, alarm.ErrUnknownDeliveryID):
		logger.WarnKV(ctx, "Dropping stale snooze", "error", err)
	default:
		logger.ErrorKV(ctx, "Snooze could not be scheduled", "error", err)
	}
}

// snoozedSuffix marks the title of a snoozed alarm.
const snoozedSuffix = " (Snoozed)"

// snoozedTitle appends the suffix once, so snoozing again keeps the title.
func snoozedTitle(title string) string {
	if strings.HasSuffix(title, snoozedSuffix) {
		return title
	}

	return title + snoozedSuffix
}

// dismiss ends the current occurrence. One-shot alarms are cancelled;
// repeating ones move on to their next day.
func (h *Handler) dismiss(ctx context.Context, entry *alarm.ScheduledAlarm, at time.Time) {
	if entry.RepeatDaily {
		if !h.scheduler.AdvanceRepeat(ctx, entry.LogicalID, entry.DeliveryID, at) {
			logger.Warn(ctx, "Dropping stale dismiss of repeating alarm")
		}

		return
	}

	if !h.scheduler.CancelDelivery(ctx, entry.LogicalID, entry.DeliveryID) {
		logger.Warn(ctx, "Dropping stale dismiss")
		return
	}

	logger.Info(ctx, "Alarm dismissed")
}
