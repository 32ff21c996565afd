package keeper

import (
	"context"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
)

// Scheduler is the part of the scheduler the schedule file drives.
type Scheduler interface {
	Schedule(ctx context.Context, req *alarm.Request) (*alarm.ScheduledAlarm, error)
	Cancel(ctx context.Context, logicalID string)
}

// syncResult counts what one apply pass did.
type syncResult struct {
	Scheduled int
	Unchanged int
	Adopted   int
	Cancelled int
	Skipped   int
	Failed    int
}

// fileSync keeps the scheduler in line with the schedule file. Only
// entries that changed since the last pass are rescheduled.
type fileSync struct {
	scheduler Scheduler
	loc       *time.Location
	now       func() time.Time

	// applied holds the entries as they were last scheduled.
	applied map[string]Entry
	// adopted holds logical ids a backend kept from an earlier run that no
	// pass has matched against the file yet.
	adopted map[string]struct{}
}

func newFileSync(s Scheduler, loc *time.Location) *fileSync {
	if loc == nil {
		loc = time.Local
	}

	return &fileSync{
		scheduler: s,
		loc:       loc,
		now:       time.Now,
		applied:   make(map[string]Entry),
		adopted:   make(map[string]struct{}),
	}
}

// adopt marks ids as already scheduled. The next pass keeps those the file
// lists as they are and cancels the rest.
func (f *fileSync) adopt(ids []string) {
	for _, id := range ids {
		if _, ok := f.applied[id]; !ok {
			f.adopted[id] = struct{}{}
		}
	}
}

// apply schedules new and changed entries and cancels entries that left
// the file, along with adopted alarms it does not list. A failing entry is retried on the next pass.
func (f *fileSync) apply(ctx context.Context, file *ScheduleFile) syncResult {
	var result syncResult

	now := f.now()
	listed := make(map[string]struct{}, len(file.Alarms))

	for i := range file.Alarms {
		e := &file.Alarms[i]
		listed[e.ID] = struct{}{}

		prev, known := f.applied[e.ID]
		if known && prev.Equal(e) {
			result.Unchanged++
			continue
		}

		if _, ok := f.adopted[e.ID]; ok {
			delete(f.adopted, e.ID)
			f.applied[e.ID] = *e

			logger.DebugKV(ctx, "Alarm kept from earlier run", "logical_id", e.ID)

			result.Adopted++

			continue
		}

		if e.oneShotExpired(now) {
			logger.WarnKV(ctx, "Skipping alarm whose time has passed", "logical_id", e.ID, "at", e.At)

			if known {
				f.scheduler.Cancel(ctx, e.ID)
				delete(f.applied, e.ID)
			}

			result.Skipped++

			continue
		}

		// A changed relative entry counts from now again.
		req, err := e.Request(now, now, f.loc)
		if err != nil {
			logger.ErrorKV(ctx, "Invalid alarm entry", "logical_id", e.ID, "error", err)

			result.Failed++

			continue
		}

		scheduled, err := f.scheduler.Schedule(ctx, req)
		if err != nil {
			logger.ErrorKV(ctx, "Failed to schedule alarm", "logical_id", e.ID, "error", err)

			// Forget it so the next pass retries.
			delete(f.applied, e.ID)

			result.Failed++

			continue
		}

		f.applied[e.ID] = *e

		logger.InfoKV(ctx, "Alarm scheduled",
			"logical_id", scheduled.LogicalID,
			"backend", scheduled.Backend.String(),
			"fire_at", scheduled.FireAt,
		)

		result.Scheduled++
	}

	for id := range f.adopted {
		delete(f.adopted, id)

		f.scheduler.Cancel(ctx, id)

		logger.InfoKV(ctx, "Alarm kept from earlier run is no longer listed", "logical_id", id)

		result.Cancelled++
	}

	for id := range f.applied {
		if _, ok := listed[id]; ok {
			continue
		}

		f.scheduler.Cancel(ctx, id)
		delete(f.applied, id)

		logger.InfoKV(ctx, "Alarm removed from schedule file", "logical_id", id)

		result.Cancelled++
	}

	return result
}
