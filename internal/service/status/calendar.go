package status

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

const (
	// productID identifies the generator in exported calendars.
	productID = "-//oshokin//alarm-keeper//EN"
	// eventLength is the nominal duration of an alarm event.
	eventLength = time.Minute
)

// WriteCalendar encodes entries as VEVENTs, each with a display VALARM at the
// fire instant. Repeating alarms carry a daily RRULE.
func WriteCalendar(w io.Writer, entries []*alarm.ScheduledAlarm, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, entry := range entries {
		cal.Children = append(cal.Children, eventFor(entry, stamp).Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}

	return nil
}

// WriteCalendarFile replaces path with the calendar of entries.
func WriteCalendarFile(path string, entries []*alarm.ScheduledAlarm, stamp time.Time) error {
	path = filepath.Clean(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("create calendar file: %w", err)
	}

	if err := WriteCalendar(f, entries, stamp); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close calendar file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace calendar file: %w", err)
	}

	return nil
}

func eventFor(entry *alarm.ScheduledAlarm, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, entry.LogicalID+"@alarm-keeper")
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, entry.FireAt.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, entry.FireAt.Add(eventLength).UTC())

	title := entry.LogicalID
	if entry.Request != nil {
		if entry.Request.Title != "" {
			title = entry.Request.Title
		}

		if entry.Request.Body != "" {
			event.Props.SetText(ical.PropDescription, entry.Request.Body)
		}
	}

	event.Props.SetText(ical.PropSummary, title)
	event.Props.SetText(ical.PropCategories, entry.Backend.String())

	if entry.RepeatDaily {
		event.Props.SetRecurrenceRule(&rrule.ROption{Freq: rrule.DAILY})
	}

	reminder := ical.NewComponent(ical.CompAlarm)
	reminder.Props.SetText(ical.PropAction, "DISPLAY")
	reminder.Props.SetText(ical.PropDescription, title)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.SetValueType(ical.ValueDuration)
	trigger.Value = "PT0S"
	reminder.Props.Set(trigger)

	event.Children = append(event.Children, reminder)

	return event
}
