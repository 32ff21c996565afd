package fallback

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/eventhub"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/notifier"
	"github.com/oshokin/alarm-keeper/internal/trigger"
)

// Notifier shows a fired alarm to the user.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Option configures a Backend.
type Option func(*Backend)

// WithLocation sets the location daily repeats keep their wall-clock time in.
func WithLocation(loc *time.Location) Option {
	return func(b *Backend) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithActWindow sets how long a fired alarm still accepts an action.
func WithActWindow(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.actWindow = d
		}
	}
}

// WithVerboseEngine lets the cron engine log at info level.
func WithVerboseEngine(verbose bool) Option {
	return func(b *Backend) {
		b.verbose = verbose
	}
}

const (
	defaultActWindow = time.Hour
	notifyTimeout    = 10 * time.Second
)

type armedEntry struct {
	alarm.Armed

	entryID cron.EntryID
}

type firedEntry struct {
	spec    alarm.DeliverySpec
	firedAt time.Time
}

// Backend is the fallback delivery backend.
type Backend struct {
	// ctx carries the logger for jobs fired by the engine.
	ctx      context.Context
	notifier Notifier
	hub      *eventhub.Hub
	engine   *cron.Cron

	loc       *time.Location
	actWindow time.Duration
	verbose   bool
	now       func() time.Time

	mu    sync.Mutex
	armed map[string]*armedEntry
	// fired keeps recently fired alarms so a local UI can still act on them.
	fired map[string]firedEntry
}

// New builds a stopped backend. A nil notifier makes every Schedule fail
// with Unsupported.
func New(ctx context.Context, n Notifier, opts ...Option) *Backend {
	b := &Backend{
		ctx:       logger.WithName(ctx, "fallback"),
		notifier:  n,
		hub:       eventhub.New(),
		loc:       time.Local,
		actWindow: defaultActWindow,
		now:       time.Now,
		armed:     make(map[string]*armedEntry),
		fired:     make(map[string]firedEntry),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.engine = trigger.NewEngine(b.ctx, b.loc, b.verbose)

	return b
}

// Start runs the engine.
func (b *Backend) Start() {
	b.engine.Start()
}

// Stop halts the engine, waits for running jobs and closes event subscriptions.
func (b *Backend) Stop() {
	<-b.engine.Stop().Done()
	b.hub.Close()
}

// Kind implements the scheduler backend.
func (*Backend) Kind() alarm.BackendKind {
	return alarm.BackendFallback
}

// Schedule arms spec and returns its delivery id.
func (b *Backend) Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error) {
	if b.notifier == nil {
		return "", alarm.NewBackendError(alarm.BackendFallback, alarm.ReasonUnsupported, nil)
	}

	now := b.now()
	if fireAt := spec.FireAt(); !fireAt.After(now) {
		return "", alarm.NewBackendError(
			alarm.BackendFallback,
			alarm.ReasonPastTime,
			fmt.Errorf("fire time %s is not after %s", fireAt.Format(time.RFC3339), now.Format(time.RFC3339)),
		)
	}

	deliveryID := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()

	entry := &armedEntry{
		Armed: alarm.Armed{DeliveryID: deliveryID, Spec: spec.Clone(), ArmedAt: now},
	}
	entry.entryID = b.engine.Schedule(trigger.ForSpec(&entry.Spec, b.loc), cron.FuncJob(func() { b.fire(deliveryID) }))
	b.armed[deliveryID] = entry

	logger.DebugKV(ctx, "Fallback alarm armed", "delivery_id", deliveryID, "fire_at", spec.FireAt())

	return deliveryID, nil
}

// Cancel disarms deliveryID. Unknown ids are ignored.
func (b *Backend) Cancel(_ context.Context, deliveryID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(deliveryID)
	delete(b.fired, deliveryID)

	return nil
}

// CancelAll disarms everything.
func (b *Backend) CancelAll(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := range b.armed {
		b.removeLocked(id)
	}

	clear(b.fired)

	return nil
}

// QueryPending returns the armed delivery ids ordered by next fire time.
func (b *Backend) QueryPending(context.Context) ([]string, error) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	type pending struct {
		id   string
		next time.Time
	}

	list := make([]pending, 0, len(b.armed))
	for id, entry := range b.armed {
		list = append(list, pending{id: id, next: trigger.NextAfter(&entry.Spec, b.loc, now)})
	}

	slices.SortFunc(list, func(x, y pending) int { return x.next.Compare(y.next) })

	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.id)
	}

	return ids, nil
}

// Subscribe returns a stream of delivery events.
func (b *Backend) Subscribe(buffer int) (<-chan alarm.DeliveryEvent, func()) {
	return b.hub.Subscribe(buffer)
}

// Act reports a user action on a fired alarm. One-shot alarms are forgotten
// afterwards; repeating ones stay armed.
func (b *Backend) Act(ctx context.Context, deliveryID string, action alarm.Action) error {
	now := b.now()

	b.mu.Lock()
	b.purgeFiredLocked(now)

	fired, ok := b.fired[deliveryID]
	if ok {
		delete(b.fired, deliveryID)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("act on %q: %w", deliveryID, alarm.ErrUnknownDeliveryID)
	}

	spec := fired.spec.Clone()

	b.hub.Publish(alarm.DeliveryEvent{
		Kind:       alarm.EventAction,
		Backend:    alarm.BackendFallback,
		DeliveryID: deliveryID,
		Action:     action,
		At:         now,
		Spec:       &spec,
	})

	logger.InfoKV(ctx, "Fallback alarm action", "delivery_id", deliveryID, "action", string(action))

	return nil
}

// fire runs on the engine when deliveryID is due.
func (b *Backend) fire(deliveryID string) {
	now := b.now()

	b.mu.Lock()

	entry, ok := b.armed[deliveryID]
	if !ok {
		b.mu.Unlock()
		return
	}

	spec := entry.Spec.Clone()
	if !spec.RepeatDaily {
		b.removeLocked(deliveryID)
	}

	b.purgeFiredLocked(now)
	b.fired[deliveryID] = firedEntry{spec: spec, firedAt: now}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(b.ctx, notifyTimeout)
	defer cancel()

	ctx = logger.WithKV(ctx, "delivery_id", deliveryID, "logical_id", spec.LogicalID)

	if err := b.notifier.Notify(ctx, notifier.FromSpec(deliveryID, &spec)); err != nil {
		logger.ErrorKV(ctx, "Fallback notification failed", "error", err)
		return
	}

	b.hub.Publish(alarm.DeliveryEvent{
		Kind:       alarm.EventDelivered,
		Backend:    alarm.BackendFallback,
		DeliveryID: deliveryID,
		At:         now,
		Spec:       &spec,
	})
}

func (b *Backend) removeLocked(deliveryID string) {
	entry, ok := b.armed[deliveryID]
	if !ok {
		return
	}

	b.engine.Remove(entry.entryID)
	delete(b.armed, deliveryID)
}

func (b *Backend) purgeFiredLocked(now time.Time) {
	for id, f := range b.fired {
		if now.Sub(f.firedAt) > b.actWindow {
			delete(b.fired, id)
		}
	}
}
