package keeper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// clockLayout is the wall-clock form of Entry.At.
const clockLayout = "15:04"

// ScheduleFile is the YAML document listing the alarms to keep scheduled.
type ScheduleFile struct {
	Alarms []Entry `yaml:"alarms"`
}

// Entry is one alarm of the schedule file. Exactly one of At and In is set.
type Entry struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Body  string `yaml:"body,omitempty"`
	// At is an RFC 3339 instant or a wall-clock time such as "07:30".
	At string `yaml:"at,omitempty"`
	// In fires the alarm that long after the entry is first applied.
	In          time.Duration `yaml:"in,omitempty"`
	RepeatDaily bool          `yaml:"repeat_daily,omitempty"`
	Color       string        `yaml:"color,omitempty"`
	Sound       string        `yaml:"sound,omitempty"`
	Vibration   []int64       `yaml:"vibration,omitempty"`
	Snooze      *EntrySnooze  `yaml:"snooze,omitempty"`
	Dismiss     *EntryDismiss `yaml:"dismiss,omitempty"`
	OpenTarget  string        `yaml:"open_target,omitempty"`
}

// EntrySnooze is the snooze button of an entry.
type EntrySnooze struct {
	Label   string `yaml:"label"`
	Minutes int    `yaml:"minutes"`
}

// EntryDismiss is the dismiss button of an entry.
type EntryDismiss struct {
	Label string `yaml:"label"`
}

var (
	errEntryID     = errors.New("alarm entry needs an id")
	errEntryWhen   = errors.New("alarm entry needs exactly one of at and in")
	errRelativeDay = errors.New("relative alarm cannot repeat daily")
)

// LoadScheduleFile reads and validates the schedule file at path.
func LoadScheduleFile(path string) (*ScheduleFile, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var file ScheduleFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("unmarshal schedule file: %w", err)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule file %s: %w", path, err)
	}

	return &file, nil
}

// Validate checks every entry and rejects duplicate ids.
func (f *ScheduleFile) Validate() error {
	seen := make(map[string]struct{}, len(f.Alarms))

	for i := range f.Alarms {
		e := &f.Alarms[i]

		if err := e.validate(); err != nil {
			return fmt.Errorf("alarm #%d: %w", i+1, err)
		}

		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("alarm #%d: duplicate id %q", i+1, e.ID)
		}

		seen[e.ID] = struct{}{}
	}

	return nil
}

func (e *Entry) validate() error {
	if e.ID == "" {
		return errEntryID
	}

	if (e.At == "") == (e.In <= 0) {
		return errEntryWhen
	}

	if e.In > 0 && e.RepeatDaily {
		return errRelativeDay
	}

	if e.At != "" {
		if _, err := e.resolveAt(time.Now(), time.Local); err != nil {
			return err
		}
	}

	return nil
}

// Equal reports whether two entries describe the same alarm.
func (e *Entry) Equal(other *Entry) bool {
	return reflect.DeepEqual(e, other)
}

// Request builds the alarm request. applied is when the entry was first
// applied and anchors In; wall-clock At resolves in loc to its next
// occurrence after now.
func (e *Entry) Request(applied, now time.Time, loc *time.Location) (*alarm.Request, error) {
	var (
		when time.Time
		err  error
	)

	if e.In > 0 {
		when = applied.Add(e.In)
	} else if when, err = e.resolveAt(now, loc); err != nil {
		return nil, err
	}

	req := &alarm.Request{
		ID:               e.ID,
		Title:            e.Title,
		Body:             e.Body,
		ScheduledTime:    when,
		Color:            e.Color,
		Sound:            e.Sound,
		VibrationPattern: append([]int64(nil), e.Vibration...),
		OpenTarget:       e.OpenTarget,
		RepeatDaily:      e.RepeatDaily,
	}

	if e.Snooze != nil {
		req.Actions.Snooze = &alarm.SnoozeAction{Label: e.Snooze.Label, Minutes: e.Snooze.Minutes}
	}

	if e.Dismiss != nil {
		req.Actions.Dismiss = &alarm.DismissAction{Label: e.Dismiss.Label}
	}

	return req, nil
}

func (e *Entry) resolveAt(now time.Time, loc *time.Location) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, e.At); err == nil {
		return at, nil
	}

	clock, err := time.ParseInLocation(clockLayout, e.At, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("alarm %q: at %q is neither RFC 3339 nor HH:MM", e.ID, e.At)
	}

	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)

	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}

	return at, nil
}

// oneShotExpired reports whether e is a one-shot alarm at a fixed instant
// that already passed.
func (e *Entry) oneShotExpired(now time.Time) bool {
	if e.RepeatDaily || e.At == "" {
		return false
	}

	at, err := time.Parse(time.RFC3339, e.At)

	return err == nil && !at.After(now)
}
