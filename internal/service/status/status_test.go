package status

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/registry"
)

type fakeSource struct {
	initialized bool
	permission  bool
	err         error
}

func (f *fakeSource) Initialized() bool   { return f.initialized }
func (f *fakeSource) HasPermission() bool { return f.permission }
func (f *fakeSource) LastError() error    { return f.err }

type fakeBackend struct {
	kind alarm.BackendKind
	ids  []string
	err  error
}

func (f *fakeBackend) Kind() alarm.BackendKind { return f.kind }

func (f *fakeBackend) QueryPending(context.Context) ([]string, error) {
	return f.ids, f.err
}

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func entry(id string, fireAt time.Time, repeat bool) *alarm.ScheduledAlarm {
	return &alarm.ScheduledAlarm{
		LogicalID:   id,
		DeliveryID:  "d-" + id,
		Backend:     alarm.BackendPrimary,
		FireAt:      fireAt,
		RepeatDaily: repeat,
		Request:     &alarm.Request{ID: id, Title: "Title " + id, Body: "Body " + id, RepeatDaily: repeat},
	}
}

// TestProjector_Snapshot reports flags, entries and per-backend pending counts.
func TestProjector_Snapshot(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Put(entry("late", now.Add(2*time.Hour), false))
	reg.Put(entry("soon", now.Add(30*time.Second), true))
	reg.Put(entry("done", now.Add(-time.Minute), false))
	require.True(t, reg.MarkDelivered("d-done", now.Add(-time.Minute)))

	lastErr := errors.New("both backends refused")
	p := NewProjector(
		reg,
		&fakeSource{initialized: true, permission: true, err: lastErr},
		&fakeBackend{kind: alarm.BackendPrimary, ids: []string{"d-late", "d-soon"}},
		&fakeBackend{kind: alarm.BackendFallback, err: alarm.ErrUnsupported},
		nil,
	)
	p.now = func() time.Time { return now }

	snap := p.Snapshot(context.Background())
	require.True(t, snap.Initialized)
	require.True(t, snap.HasPermission)
	require.ErrorIs(t, snap.LastError, lastErr)
	require.Len(t, snap.Active, 3)
	require.Equal(t, 2, snap.PendingCount())

	require.Equal(t, BackendStatus{Pending: 2, Known: true}, snap.Backends[alarm.BackendPrimary])
	require.Equal(t, BackendStatus{}, snap.Backends[alarm.BackendFallback])

	next, ok := snap.Next()
	require.True(t, ok)
	require.Equal(t, "soon", next.LogicalID)

	Log(context.Background(), snap)
}

// TestProjector_BackendFailure keeps the failure in the snapshot.
func TestProjector_BackendFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := NewProjector(registry.New(), new(fakeSource), &fakeBackend{kind: alarm.BackendPrimary, err: boom})

	snap := p.Snapshot(context.Background())
	st := snap.Backends[alarm.BackendPrimary]
	require.False(t, st.Known)
	require.ErrorIs(t, st.Err, boom)

	_, ok := snap.Next()
	require.False(t, ok)
}

// TestWriteCalendar exports one VEVENT with a VALARM per entry.
func TestWriteCalendar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	entries := []*alarm.ScheduledAlarm{
		entry("wake", now.Add(time.Hour), true),
		entry("tea", now.Add(10*time.Minute), false),
	}
	require.NoError(t, WriteCalendar(&buf, entries, now))

	out := buf.String()
	require.Contains(t, out, "BEGIN:VCALENDAR")
	require.Contains(t, out, "PRODID:"+productID)
	require.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	require.Equal(t, 2, strings.Count(out, "BEGIN:VALARM"))
	require.Equal(t, 1, strings.Count(out, "RRULE:FREQ=DAILY"))
	require.Contains(t, out, "SUMMARY:Title wake")

	cal, err := ical.NewDecoder(strings.NewReader(out)).Decode()
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 2)

	start, err := events[0].DateTimeStart(time.UTC)
	require.NoError(t, err)
	require.True(t, start.Equal(now.Add(time.Hour)))

	uid, err := events[1].Props.Text(ical.PropUID)
	require.NoError(t, err)
	require.Equal(t, "tea@alarm-keeper", uid)
}

// TestWriteCalendarFile replaces the target file.
func TestWriteCalendarFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarms.ics")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	require.NoError(t, WriteCalendarFile(path, []*alarm.ScheduledAlarm{entry("a", now.Add(time.Hour), false)}, now))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "BEGIN:VCALENDAR"))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}
