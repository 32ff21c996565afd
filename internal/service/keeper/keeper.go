package keeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/eventhub"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/registry"
	"github.com/oshokin/alarm-keeper/internal/service/action"
	"github.com/oshokin/alarm-keeper/internal/service/scheduler"
	"github.com/oshokin/alarm-keeper/internal/service/status"
)

// EventSource is a backend that reports delivery events.
type EventSource interface {
	Subscribe(buffer int) (<-chan alarm.DeliveryEvent, func())
}

// PendingLister reports the alarms a backend kept armed, with their payloads.
type PendingLister interface {
	ListPending(ctx context.Context) ([]alarm.Pending, error)
}

// keeper is the host loop around an assembled core.
type keeper struct {
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	handler   *action.Handler
	projector *status.Projector
	sources   []EventSource
	files     *fileSync
	// kept lists what the primary backend still holds from an earlier run.
	kept PendingLister

	scheduleFile   string
	statusInterval time.Duration
	reapGrace      time.Duration
	calendarFile   string
	now            func() time.Time

	// calendarKey is the active set last written to the calendar file.
	calendarKey string
}

// run blocks until ctx is done. Alarms stay armed at their backends on return.
func (k *keeper) run(ctx context.Context) error {
	if err := k.scheduler.Initialize(ctx); err != nil {
		logger.WarnKV(ctx, "Alarm scheduler not initialized", "error", err)
	}

	k.adopt(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	events := mergeEvents(ctx, k.sources)
	wg.Go(func() { k.handler.Run(ctx, events) })

	changed := make(chan struct{}, 1)
	wg.Go(func() { watchFile(ctx, k.scheduleFile, changed) })

	k.reload(ctx)

	ticker := time.NewTicker(k.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Alarm keeper stopped, armed alarms stay with their backends")
			return nil
		case <-changed:
			k.reload(ctx)
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

// adopt takes over the alarms the daemon kept while alarm-keeper was down,
// so a restart neither silences a ringing alarm nor loses a snooze or a
// running countdown. The schedule file then only cancels what it no longer lists.
func (k *keeper) adopt(ctx context.Context) {
	if k.kept == nil {
		return
	}

	pending, err := k.kept.ListPending(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Failed to list alarms kept by the daemon", "error", err)
		return
	}

	adopted := k.scheduler.Adopt(ctx, alarm.BackendPrimary, pending)

	active := k.registry.ListActive()
	ids := make([]string, 0, len(active))

	for _, entry := range active {
		ids = append(ids, entry.LogicalID)
	}

	k.files.adopt(ids)

	logger.InfoKV(ctx, "Alarms kept by the daemon adopted", "count", adopted)
}

// reload applies the schedule file. A missing or invalid file keeps the
// alarms already applied.
func (k *keeper) reload(ctx context.Context) {
	file, err := LoadScheduleFile(k.scheduleFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.WarnKV(ctx, "Schedule file not found", "path", k.scheduleFile)
		} else {
			logger.ErrorKV(ctx, "Failed to load schedule file", "path", k.scheduleFile, "error", err)
		}

		return
	}

	result := k.files.apply(ctx, file)

	logger.InfoKV(ctx, "Schedule file applied",
		"scheduled", result.Scheduled,
		"unchanged", result.Unchanged,
		"adopted", result.Adopted,
		"cancelled", result.Cancelled,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
}

// tick refreshes status: it logs a snapshot, reaps delivered one-shot
// alarms, re-arms lost repeats and exports the calendar.
func (k *keeper) tick(ctx context.Context) {
	now := k.now()

	for _, entry := range k.registry.ReapExpired(now.Add(-k.reapGrace)) {
		logger.DebugKV(ctx, "Delivered alarm reaped", "logical_id", entry.LogicalID, "delivery_id", entry.DeliveryID)
	}

	if n := k.scheduler.VerifyRepeats(ctx); n > 0 {
		logger.InfoKV(ctx, "Repeating alarms re-armed", "count", n)
	}

	snap := k.projector.Snapshot(ctx)
	status.Log(ctx, snap)

	if k.calendarFile == "" {
		return
	}

	key := calendarKey(snap.Active)
	if key == k.calendarKey {
		return
	}

	if err := status.WriteCalendarFile(k.calendarFile, snap.Active, snap.At); err != nil {
		logger.ErrorKV(ctx, "Failed to write calendar file", "path", k.calendarFile, "error", err)
		return
	}

	k.calendarKey = key
}

func calendarKey(entries []*alarm.ScheduledAlarm) string {
	var b strings.Builder

	for _, e := range entries {
		fmt.Fprintf(&b, "%s|%s|%d|%t;", e.LogicalID, e.DeliveryID, e.FireAt.UnixMilli(), e.RepeatDaily)
	}

	return b.String()
}

// mergeEvents fans the events of every source into one channel. The
// channel closes when every source closed or ctx is done.
func mergeEvents(ctx context.Context, sources []EventSource) <-chan alarm.DeliveryEvent {
	out := make(chan alarm.DeliveryEvent, eventhub.DefaultBuffer)

	var wg sync.WaitGroup

	for _, src := range sources {
		events, unsubscribe := src.Subscribe(eventhub.DefaultBuffer)

		wg.Go(func() {
			defer unsubscribe()

			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}

					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		})
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
