package trigger

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// TestOnce_Next fires once and then never again.
func TestOnce_Next(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	o := Once{At: at}

	require.Equal(t, at, o.Next(at.Add(-time.Hour)))
	require.True(t, o.Next(at).IsZero())
	require.True(t, o.Next(at.Add(time.Second)).IsZero())
}

// TestDaily_Next keeps the wall-clock time across a DST change.
func TestDaily_Next(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	first := time.Date(2026, 10, 24, 7, 30, 0, 0, berlin)
	d := Daily{First: first}

	require.Equal(t, first, d.Next(first.Add(-time.Minute)))
	require.Equal(t, time.Date(2026, 10, 25, 7, 30, 0, 0, berlin), d.Next(first))
	require.Equal(t, time.Date(2026, 10, 26, 7, 30, 0, 0, berlin), d.Next(time.Date(2026, 10, 25, 7, 30, 0, 0, berlin)))

	// Far in the future it still lands on the right wall-clock time.
	far := d.Next(time.Date(2027, 3, 1, 8, 0, 0, 0, berlin))
	require.Equal(t, time.Date(2027, 3, 2, 7, 30, 0, 0, berlin), far)
}

// TestForSpec picks the schedule kind from the spec.
func TestForSpec(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	once := &alarm.DeliverySpec{FireAtMillis: at.UnixMilli()}
	require.Equal(t, Once{At: at}, ForSpec(once, time.UTC))

	daily := &alarm.DeliverySpec{FireAtMillis: at.UnixMilli(), RepeatDaily: true}
	require.Equal(t, Daily{First: at}, ForSpec(daily, time.UTC))
	require.Equal(t, at.AddDate(0, 0, 1), NextAfter(daily, time.UTC, at))
	require.True(t, NextAfter(once, time.UTC, at).IsZero())
}

// TestEngine_FiresSchedules runs a one-shot and a daily schedule on fake time.
func TestEngine_FiresSchedules(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		engine := NewEngine(context.Background(), time.UTC, false)

		start := time.Now()
		onceFired := make(chan time.Time, 4)
		dailyFired := make(chan time.Time, 8)

		engine.Schedule(Once{At: start.Add(time.Minute)}, cron.FuncJob(func() { onceFired <- time.Now() }))
		engine.Schedule(Daily{First: start.Add(time.Hour)}, cron.FuncJob(func() { dailyFired <- time.Now() }))
		engine.Start()

		time.Sleep(3*24*time.Hour + 2*time.Hour)
		synctest.Wait()

		<-engine.Stop().Done()

		require.Len(t, onceFired, 1)
		require.True(t, start.Add(time.Minute).Equal(<-onceFired))
		require.Len(t, dailyFired, 4)
	})
}
