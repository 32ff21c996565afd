package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/permission"
	"github.com/oshokin/alarm-keeper/internal/registry"
)

var errBridgeDown = errors.New("bridge down")

// fakeBackend records calls and hands out sequential delivery ids.
type fakeBackend struct {
	mu sync.Mutex

	kind alarm.BackendKind
	// scheduleErr fails every Schedule call when set.
	scheduleErr error
	// pendingErr fails QueryPending when set.
	pendingErr error
	// afterQuery runs once QueryPending has taken its snapshot.
	afterQuery func()

	seq            int
	live           map[string]alarm.DeliverySpec
	scheduleCalls  int
	cancelled      []string
	cancelAllCalls int
}

func newFakeBackend(kind alarm.BackendKind) *fakeBackend {
	return &fakeBackend{kind: kind, live: make(map[string]alarm.DeliverySpec)}
}

func (f *fakeBackend) Kind() alarm.BackendKind { return f.kind }

func (f *fakeBackend) Schedule(_ context.Context, spec alarm.DeliverySpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scheduleCalls++

	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}

	f.seq++
	id := fmt.Sprintf("%s-%d", f.kind, f.seq)
	f.live[id] = spec

	return id, nil
}

func (f *fakeBackend) Cancel(_ context.Context, deliveryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, deliveryID)
	delete(f.live, deliveryID)

	return nil
}

func (f *fakeBackend) CancelAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelAllCalls++
	clear(f.live)

	return nil
}

func (f *fakeBackend) QueryPending(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pendingErr != nil {
		return nil, f.pendingErr
	}

	ids := make([]string, 0, len(f.live))
	for id := range f.live {
		ids = append(ids, id)
	}

	if hook := f.afterQuery; hook != nil {
		f.afterQuery = nil

		f.mu.Unlock()
		hook()
		f.mu.Lock()
	}

	return ids, nil
}

func (f *fakeBackend) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.live)
}

// drop simulates the backend losing an alarm on its own.
func (f *fakeBackend) drop(deliveryID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.live, deliveryID)
}

type fixture struct {
	now      time.Time
	reg      *registry.Registry
	primary  *fakeBackend
	fallback *fakeBackend
	perm     *permission.Static
	sched    *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		now:      time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		reg:      registry.New(),
		primary:  newFakeBackend(alarm.BackendPrimary),
		fallback: newFakeBackend(alarm.BackendFallback),
		perm:     permission.NewStatic(permission.Granted),
	}

	f.sched = New(f.reg, f.primary, f.fallback, f.perm, WithClock(func() time.Time { return f.now }))

	return f
}

// TestScheduler_EndToEnd schedules, cancels and re-schedules the same request.
func TestScheduler_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req := &alarm.Request{ID: "a", Title: "Stand-up", ScheduledTime: f.now.Add(30 * time.Second)}

	first, err := f.sched.Schedule(ctx, req)
	require.NoError(t, err)
	require.Equal(t, alarm.BackendPrimary, first.Backend)
	require.Equal(t, f.now.Add(30*time.Second), first.FireAt)

	active := f.reg.ListActive()
	require.Len(t, active, 1)
	require.Equal(t, first.DeliveryID, active[0].DeliveryID)

	f.sched.Cancel(ctx, "a")
	require.Empty(t, f.reg.ListActive())
	require.Equal(t, []string{first.DeliveryID}, f.primary.cancelled)

	second, err := f.sched.Schedule(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, first.DeliveryID, second.DeliveryID)
	require.Equal(t, 1, f.reg.Len())
}

// TestScheduler_ReplaceKeepsOneEntry verifies the second schedule wins and the first is cancelled.
func TestScheduler_ReplaceKeepsOneEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sched.Schedule(ctx, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
	require.NoError(t, err)

	second, err := f.sched.Schedule(ctx, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(2 * time.Hour)})
	require.NoError(t, err)

	active := f.reg.ListActive()
	require.Len(t, active, 1)
	require.Equal(t, second.DeliveryID, active[0].DeliveryID)
	require.Equal(t, []string{first.DeliveryID}, f.primary.cancelled)
	require.Equal(t, 1, f.primary.liveCount())
}

// TestScheduler_FallbackOnPrimaryFailure verifies demotion succeeds iff the fallback succeeds.
func TestScheduler_FallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	t.Run("fallback accepts", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.primary.scheduleErr = alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonTransport, errBridgeDown)

		got, err := f.sched.Schedule(context.Background(), &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
		require.NoError(t, err)
		require.Equal(t, alarm.BackendFallback, got.Backend)
		require.Equal(t, 1, f.primary.scheduleCalls)
		require.Equal(t, 1, f.fallback.scheduleCalls)

		stored, ok := f.reg.FindByLogicalID("a")
		require.True(t, ok)
		require.Equal(t, alarm.BackendFallback, stored.Backend)
	})

	t.Run("fallback refuses", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.primary.scheduleErr = errBridgeDown
		f.fallback.scheduleErr = alarm.NewBackendError(alarm.BackendFallback, alarm.ReasonUnsupported, nil)

		got, err := f.sched.Schedule(context.Background(), &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
		require.Nil(t, got)

		var schedErr *alarm.SchedulingError
		require.ErrorAs(t, err, &schedErr)
		require.Equal(t, alarm.ReasonTransport, alarm.ReasonOf(schedErr.Primary))
		require.Equal(t, alarm.ReasonUnsupported, schedErr.Reason())
		require.ErrorIs(t, err, errBridgeDown)
		require.Equal(t, 1, f.fallback.scheduleCalls)
		require.Zero(t, f.reg.Len())
		require.Equal(t, err, f.sched.LastError())
	})
}

// TestScheduler_NilBackendsAreUnsupported verifies missing backends fail as Unsupported.
func TestScheduler_NilBackendsAreUnsupported(t *testing.T) {
	t.Parallel()

	s := New(registry.New(), nil, nil, nil)

	_, err := s.Schedule(context.Background(), &alarm.Request{ID: "a", ScheduledTime: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, alarm.ErrUnsupported)
}

// TestScheduler_NormalizesPastTime verifies a stale one-shot request fires one minute from now.
func TestScheduler_NormalizesPastTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	got, err := f.sched.Schedule(context.Background(), &alarm.Request{ID: "a", ScheduledTime: f.now.Add(-time.Hour)})
	require.NoError(t, err)
	require.Equal(t, f.now.Add(time.Minute), got.FireAt)

	spec := f.primary.live[got.DeliveryID]
	require.Equal(t, got.FireAt.UnixMilli(), spec.FireAtMillis)
}

// TestScheduler_CancelIsIdempotent verifies repeated and unknown cancels are no-ops.
func TestScheduler_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.sched.Schedule(ctx, &alarm.Request{ID: "b", ScheduledTime: f.now.Add(time.Hour)})
	require.NoError(t, err)

	f.sched.Cancel(ctx, "a")
	afterOnce := f.reg.ListActive()

	f.sched.Cancel(ctx, "a")
	f.sched.Cancel(ctx, "never-scheduled")

	require.Equal(t, afterOnce, f.reg.ListActive())
	require.Len(t, f.primary.cancelled, 1)
}

// TestScheduler_PermissionDenied verifies scheduling stops before any backend call.
func TestScheduler_PermissionDenied(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.perm.Set(permission.Denied)

	_, err := f.sched.Schedule(context.Background(), &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
	require.ErrorIs(t, err, alarm.ErrPermissionDenied)
	require.Zero(t, f.primary.scheduleCalls)
	require.Zero(t, f.fallback.scheduleCalls)
	require.False(t, f.sched.HasPermission())
	require.ErrorIs(t, f.sched.LastError(), alarm.ErrPermissionDenied)
	require.Zero(t, f.perm.Requests())

	f.sched.ClearError()
	require.NoError(t, f.sched.LastError())
}

// TestScheduler_Initialize verifies the one-time permission request.
func TestScheduler_Initialize(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.perm.Set(permission.Denied)

	err := f.sched.Initialize(context.Background())
	require.ErrorIs(t, err, alarm.ErrPermissionDenied)
	require.False(t, f.sched.Initialized())
	require.Equal(t, 1, f.perm.Requests())

	f.perm.Set(permission.Granted)

	require.NoError(t, f.sched.Initialize(context.Background()))
	require.True(t, f.sched.Initialized())
	require.True(t, f.sched.HasPermission())

	// Second call is a no-op.
	require.NoError(t, f.sched.Initialize(context.Background()))
	require.Equal(t, 1, f.perm.Requests())
}

// TestScheduler_CancelAll verifies every backend is cleared along with the registry.
func TestScheduler_CancelAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.Schedule(ctx, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
	require.NoError(t, err)

	f.sched.CancelAll(ctx)

	require.Zero(t, f.reg.Len())
	require.Equal(t, 1, f.primary.cancelAllCalls)
	require.Equal(t, 1, f.fallback.cancelAllCalls)
}

// TestScheduler_ReplaceRejectsStaleDelivery verifies guarded replacement.
func TestScheduler_ReplaceRejectsStaleDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	current, err := f.sched.Schedule(ctx, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Hour)})
	require.NoError(t, err)

	_, err = f.sched.Replace(ctx, "some-old-delivery", &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Minute)})
	require.ErrorIs(t, err, alarm.ErrUnknownDeliveryID)

	stored, _ := f.reg.FindByLogicalID("a")
	require.Equal(t, current.DeliveryID, stored.DeliveryID)

	replaced, err := f.sched.Replace(ctx, current.DeliveryID, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Minute)})
	require.NoError(t, err)
	require.NotEqual(t, current.DeliveryID, replaced.DeliveryID)

	require.False(t, f.sched.CancelDelivery(ctx, "a", current.DeliveryID))
	require.True(t, f.sched.CancelDelivery(ctx, "a", replaced.DeliveryID))
	require.Zero(t, f.reg.Len())
}

// TestScheduler_AdvanceRepeat verifies a dismissed daily occurrence moves to the next day.
func TestScheduler_AdvanceRepeat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	daily, err := f.sched.Schedule(ctx, &alarm.Request{ID: "d", ScheduledTime: f.now.Add(time.Minute), RepeatDaily: true})
	require.NoError(t, err)

	once, err := f.sched.Schedule(ctx, &alarm.Request{ID: "o", ScheduledTime: f.now.Add(time.Minute)})
	require.NoError(t, err)

	firedAt := f.now.Add(time.Minute)
	require.True(t, f.reg.MarkDelivered(daily.DeliveryID, firedAt))

	require.True(t, f.sched.AdvanceRepeat(ctx, "d", daily.DeliveryID, firedAt.Add(10*time.Second)))
	require.False(t, f.sched.AdvanceRepeat(ctx, "o", once.DeliveryID, firedAt))
	require.False(t, f.sched.AdvanceRepeat(ctx, "d", "stale", firedAt))

	stored, _ := f.reg.FindByLogicalID("d")
	require.Equal(t, daily.FireAt.AddDate(0, 0, 1), stored.FireAt)
	require.Equal(t, alarm.PhaseScheduled, stored.Phase)
	require.Equal(t, daily.DeliveryID, stored.DeliveryID)
	require.Empty(t, f.primary.cancelled)
}

// TestScheduler_VerifyRepeats verifies lost repeating alarms are re-armed.
func TestScheduler_VerifyRepeats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	daily, err := f.sched.Schedule(ctx, &alarm.Request{ID: "d", ScheduledTime: f.now.Add(time.Hour), RepeatDaily: true})
	require.NoError(t, err)
	_, err = f.sched.Schedule(ctx, &alarm.Request{ID: "o", ScheduledTime: f.now.Add(time.Hour)})
	require.NoError(t, err)

	require.Zero(t, f.sched.VerifyRepeats(ctx))

	f.primary.drop(daily.DeliveryID)

	require.Equal(t, 1, f.sched.VerifyRepeats(ctx))

	stored, _ := f.reg.FindByLogicalID("d")
	require.NotEqual(t, daily.DeliveryID, stored.DeliveryID)
	require.Equal(t, daily.FireAt, stored.FireAt)

	// A backend that cannot introspect is never second-guessed.
	f.primary.pendingErr = alarm.ErrUnsupported
	f.primary.drop(stored.DeliveryID)
	require.Zero(t, f.sched.VerifyRepeats(ctx))
}

// TestScheduler_VerifyRepeatsSkipsNewAlarms leaves a repeating alarm armed
// while the backends were listed untouched.
func TestScheduler_VerifyRepeatsSkipsNewAlarms(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var late *alarm.ScheduledAlarm

	f.primary.afterQuery = func() {
		var err error

		late, err = f.sched.Schedule(ctx, &alarm.Request{ID: "late", ScheduledTime: f.now.Add(time.Hour), RepeatDaily: true})
		require.NoError(t, err)
	}

	require.Zero(t, f.sched.VerifyRepeats(ctx))
	require.NotNil(t, late)

	stored, ok := f.reg.FindByLogicalID("late")
	require.True(t, ok)
	require.Equal(t, late.DeliveryID, stored.DeliveryID)
	require.Empty(t, f.primary.cancelled)
	require.Equal(t, 1, f.primary.liveCount())
}

// TestScheduler_Adopt tracks alarms a backend kept from an earlier run and
// drops older duplicates of the same logical id.
func TestScheduler_Adopt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	snoozedAt := f.now.Add(4 * time.Minute)
	snoozed := alarm.NewDeliverySpec(&alarm.Request{
		ID:      "wake",
		Title:   "Wake up (Snoozed)",
		Actions: alarm.Actions{Snooze: &alarm.SnoozeAction{Minutes: 9}},
	}, snoozedAt, alarm.DefaultSnoozeMinutes)
	stale := alarm.NewDeliverySpec(&alarm.Request{ID: "wake", Title: "Wake up"}, f.now.Add(time.Hour), alarm.DefaultSnoozeMinutes)
	daily := alarm.NewDeliverySpec(&alarm.Request{ID: "pill", RepeatDaily: true}, f.now.Add(-23*time.Hour), alarm.DefaultSnoozeMinutes)

	adopted := f.sched.Adopt(ctx, alarm.BackendPrimary, []alarm.Pending{
		{Armed: alarm.Armed{DeliveryID: "old", Spec: stale, ArmedAt: f.now.Add(-2 * time.Hour)}, NextFireAt: f.now.Add(time.Hour)},
		{Armed: alarm.Armed{DeliveryID: "new", Spec: snoozed, ArmedAt: f.now.Add(-time.Minute)}, NextFireAt: snoozedAt},
		{Armed: alarm.Armed{DeliveryID: "rep", Spec: daily, ArmedAt: f.now.Add(-48 * time.Hour)}, NextFireAt: f.now.Add(time.Hour)},
	})
	require.Equal(t, 2, adopted)
	require.Equal(t, []string{"old"}, f.primary.cancelled)
	require.Zero(t, f.primary.scheduleCalls)

	wake, ok := f.reg.FindByLogicalID("wake")
	require.True(t, ok)
	require.Equal(t, "new", wake.DeliveryID)
	require.Equal(t, alarm.BackendPrimary, wake.Backend)
	require.True(t, snoozedAt.Equal(wake.FireAt))
	require.Equal(t, 9, wake.SnoozeMinutes)
	require.Equal(t, "Wake up (Snoozed)", wake.Request.Title)

	pill, ok := f.reg.FindByLogicalID("pill")
	require.True(t, ok)
	require.True(t, pill.RepeatDaily)
	require.True(t, f.now.Add(time.Hour).Equal(pill.FireAt))

	// Adopting the same list again changes nothing.
	require.Zero(t, f.sched.Adopt(ctx, alarm.BackendPrimary, []alarm.Pending{
		{Armed: alarm.Armed{DeliveryID: "new", Spec: snoozed}, NextFireAt: snoozedAt},
	}))
	require.Equal(t, 2, f.reg.Len())

	// The adopted alarm is cancelled like any other.
	f.sched.Cancel(ctx, "wake")
	require.Equal(t, []string{"old", "new"}, f.primary.cancelled)
}

// TestScheduler_ConcurrentSameID verifies serialized replaces leave exactly one live alarm.
func TestScheduler_ConcurrentSameID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	errs := make([]error, 16)

	for i := range errs {
		wg.Go(func() {
			_, errs[i] = f.sched.Schedule(ctx, &alarm.Request{ID: "a", ScheduledTime: f.now.Add(time.Duration(i+1) * time.Minute)})
		})
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, ok := f.reg.FindByLogicalID("a")
	require.True(t, ok)
	require.Equal(t, 1, f.reg.Len())
	require.Equal(t, 1, f.primary.liveCount())

	_, live := f.primary.live[stored.DeliveryID]
	require.True(t, live)
}

// TestScheduler_InvalidRequest rejects requests without an id.
func TestScheduler_InvalidRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.sched.Schedule(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.sched.Schedule(context.Background(), &alarm.Request{})
	require.ErrorIs(t, err, ErrInvalidRequest)
}
