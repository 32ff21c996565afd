package daemon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/eventhub"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/notifier"
	repo "github.com/oshokin/alarm-keeper/internal/repository/schedule"
	"github.com/oshokin/alarm-keeper/internal/trigger"
)

// Alerter raises the intrusive alert of a ringing alarm.
type Alerter interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Option configures a Service.
type Option func(*Service)

// WithRing sets how often a fired alarm rings and for how long.
func WithRing(interval, timeout time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.ringInterval = interval
		}

		if timeout > 0 {
			s.ringTimeout = timeout
		}
	}
}

// WithLocation sets the location daily repeats keep their wall-clock time in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithAlerter replaces the log alerter.
func WithAlerter(a Alerter) Option {
	return func(s *Service) {
		if a != nil {
			s.alerter = a
		}
	}
}

// alertTimeout bounds one alert.
const alertTimeout = 5 * time.Second

type armedEntry struct {
	alarm.Armed

	entryID cron.EntryID
}

// ringing is a fired alarm waiting for an action.
type ringing struct {
	spec    alarm.DeliverySpec
	firedAt time.Time
	stop    context.CancelFunc
}

// Service is the daemon business logic. It is safe for concurrent use.
type Service struct {
	// ctx carries the logger for engine jobs and ring loops.
	ctx     context.Context
	repo    repo.Repository
	hub     *eventhub.Hub
	engine  *cron.Cron
	alerter Alerter

	loc          *time.Location
	ringInterval time.Duration
	ringTimeout  time.Duration

	// wg tracks ring loops.
	wg sync.WaitGroup

	mu    sync.Mutex
	armed map[string]*armedEntry
	rings map[string]*ringing
	// missed are restored one-shot alarms whose instant passed while the
	// daemon was down; Start fires them.
	missed []string
}

// NewService loads the persisted table from repository and returns a stopped
// service. A nil repository keeps everything in memory.
func NewService(ctx context.Context, repository repo.Repository, opts ...Option) (*Service, error) {
	s := &Service{
		ctx:          logger.WithName(ctx, "daemon"),
		repo:         repository,
		hub:          eventhub.New(),
		alerter:      notifier.NewLog(),
		loc:          time.Local,
		ringInterval: config.DefaultRingInterval,
		ringTimeout:  config.DefaultRingTimeout,
		armed:        make(map[string]*armedEntry),
		rings:        make(map[string]*ringing),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine = trigger.NewEngine(s.ctx, s.loc, false)

	if repository == nil {
		return s, nil
	}

	restored, err := repository.Load(ctx)

	switch {
	case err == nil:
		s.restore(restored)
	case errors.Is(err, repo.ErrNotFound):
		// Nothing armed yet.
	default:
		return nil, fmt.Errorf("load armed alarms: %w", err)
	}

	return s, nil
}

// restore re-arms persisted alarms. It runs before Start, so nothing fires yet.
func (s *Service) restore(restored []alarm.Armed) {
	now := time.Now()

	for i := range restored {
		entry := &armedEntry{Armed: restored[i]}
		s.armed[entry.DeliveryID] = entry

		if !entry.Spec.RepeatDaily && !entry.Spec.FireAt().After(now) {
			s.missed = append(s.missed, entry.DeliveryID)
			continue
		}

		s.armLocked(entry)
	}

	logger.InfoKV(s.ctx, "Armed alarms restored", "count", len(restored), "missed", len(s.missed))
}

// Start runs the engine and fires alarms missed while the daemon was down.
func (s *Service) Start() {
	s.engine.Start()

	s.mu.Lock()
	missed := s.missed
	s.missed = nil
	s.mu.Unlock()

	for _, id := range missed {
		s.fire(id)
	}
}

// Stop halts the engine, silences every ringing alarm and closes event
// subscriptions. Armed alarms stay persisted.
func (s *Service) Stop() {
	<-s.engine.Stop().Done()

	s.mu.Lock()
	for _, r := range s.rings {
		r.stop()
	}
	clear(s.rings)
	s.mu.Unlock()

	s.wg.Wait()
	s.hub.Close()
}

// Schedule arms spec and returns its delivery id.
func (s *Service) Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error) {
	now := time.Now()
	if fireAt := spec.FireAt(); !fireAt.After(now) {
		return "", fmt.Errorf("%w: %s is not after %s",
			alarm.ErrPastTime, fireAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	entry := &armedEntry{
		Armed: alarm.Armed{
			DeliveryID: uuid.NewString(),
			Spec:       spec.Clone(),
			ArmedAt:    now,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed[entry.DeliveryID] = entry
	s.armLocked(entry)

	if err := s.persistLocked(ctx); err != nil {
		s.disarmLocked(entry.DeliveryID)
		return "", err
	}

	logger.InfoKV(ctx, "Alarm armed",
		"delivery_id", entry.DeliveryID,
		"logical_id", spec.LogicalID,
		"fire_at", spec.FireAt(),
		"repeat_daily", spec.RepeatDaily,
	)

	return entry.DeliveryID, nil
}

// Cancel disarms deliveryID and silences it. Unknown ids are ignored.
func (s *Service) Cancel(ctx context.Context, deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, isArmed := s.armed[deliveryID]
	_, isRinging := s.rings[deliveryID]

	if !isArmed && !isRinging {
		return nil
	}

	s.silenceLocked(deliveryID)
	s.disarmLocked(deliveryID)

	logger.InfoKV(ctx, "Alarm cancelled", "delivery_id", deliveryID)

	return s.persistLocked(ctx)
}

// CancelAll disarms and silences every alarm.
func (s *Service) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.rings {
		s.silenceLocked(id)
	}

	for id := range s.armed {
		s.disarmLocked(id)
	}

	logger.Info(ctx, "All alarms cancelled")

	return s.persistLocked(ctx)
}

// ListPending returns the armed alarms ordered by next fire time.
func (s *Service) ListPending(context.Context) []alarm.Pending {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]alarm.Pending, 0, len(s.armed))
	for _, entry := range s.armed {
		armed := entry.Armed
		armed.Spec = entry.Spec.Clone()

		result = append(result, alarm.Pending{
			Armed:      armed,
			NextFireAt: trigger.NextAfter(&entry.Spec, s.loc, now),
		})
	}

	slices.SortFunc(result, func(a, b alarm.Pending) int {
		if c := a.NextFireAt.Compare(b.NextFireAt); c != 0 {
			return c
		}

		return a.ArmedAt.Compare(b.ArmedAt)
	})

	return result
}

// Act reports a user action on a ringing or armed alarm. It silences the
// alarm and drops one-shot alarms; repeating ones stay armed.
func (s *Service) Act(ctx context.Context, deliveryID string, action alarm.Action, actor *alarm.Actor) error {
	s.mu.Lock()

	var spec alarm.DeliverySpec

	if r, ok := s.rings[deliveryID]; ok {
		spec = r.spec.Clone()
	} else if entry, ok := s.armed[deliveryID]; ok {
		spec = entry.Spec.Clone()
	} else {
		s.mu.Unlock()
		return fmt.Errorf("act on %q: %w", deliveryID, alarm.ErrUnknownDeliveryID)
	}

	s.silenceLocked(deliveryID)

	if !spec.RepeatDaily {
		if _, ok := s.armed[deliveryID]; ok {
			s.disarmLocked(deliveryID)

			if err := s.persistLocked(ctx); err != nil {
				logger.ErrorKV(ctx, "Failed to persist armed alarms", "error", err)
			}
		}
	}

	s.mu.Unlock()

	s.hub.Publish(alarm.DeliveryEvent{
		Kind:       alarm.EventAction,
		Backend:    alarm.BackendPrimary,
		DeliveryID: deliveryID,
		Action:     action,
		At:         time.Now(),
		Spec:       &spec,
	})

	logger.InfoKV(ctx, "Alarm action",
		"delivery_id", deliveryID,
		"logical_id", spec.LogicalID,
		"action", string(action),
		"actor", actor.String(),
	)

	return nil
}

// Subscribe returns a stream of delivery events.
func (s *Service) Subscribe(buffer int) (<-chan alarm.DeliveryEvent, func()) {
	return s.hub.Subscribe(buffer)
}

// fire runs when deliveryID is due: one-shot alarms leave the armed table,
// then the alarm starts ringing.
func (s *Service) fire(deliveryID string) {
	now := time.Now()
	ctx := logger.WithKV(s.ctx, "delivery_id", deliveryID)

	s.mu.Lock()

	entry, ok := s.armed[deliveryID]
	if !ok {
		s.mu.Unlock()
		return
	}

	spec := entry.Spec.Clone()

	if !spec.RepeatDaily {
		s.disarmLocked(deliveryID)

		if err := s.persistLocked(ctx); err != nil {
			logger.ErrorKV(ctx, "Failed to persist armed alarms", "error", err)
		}
	}

	// A daily alarm still ringing from yesterday starts over.
	s.silenceLocked(deliveryID)

	ringCtx, stop := context.WithCancel(ctx)
	r := &ringing{spec: spec, firedAt: now, stop: stop}
	s.rings[deliveryID] = r

	s.wg.Go(func() { s.ring(ringCtx, deliveryID, r) })

	s.mu.Unlock()

	logger.InfoKV(ctx, "Alarm delivered", "logical_id", spec.LogicalID)

	s.hub.Publish(alarm.DeliveryEvent{
		Kind:       alarm.EventDelivered,
		Backend:    alarm.BackendPrimary,
		DeliveryID: deliveryID,
		At:         now,
		Spec:       &spec,
	})
}

// ring alerts every ring interval until ctx is cancelled or the ring
// timeout elapses.
func (s *Service) ring(ctx context.Context, deliveryID string, r *ringing) {
	timeout := time.NewTimer(s.ringTimeout)
	defer timeout.Stop()

	ticker := time.NewTicker(s.ringInterval)
	defer ticker.Stop()

	n := notifier.FromSpec(deliveryID, &r.spec)

	for {
		alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
		if err := s.alerter.Notify(alertCtx, n); err != nil && ctx.Err() == nil {
			logger.WarnKV(ctx, "Alert failed", "error", err)
		}

		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-timeout.C:
			logger.WarnKV(ctx, "Alarm missed, nobody acted", "logical_id", r.spec.LogicalID, "rang_for", s.ringTimeout.String())

			s.mu.Lock()
			if s.rings[deliveryID] == r {
				delete(s.rings, deliveryID)
			}
			s.mu.Unlock()

			return
		}
	}
}

// Ringing reports whether deliveryID is ringing.
func (s *Service) Ringing(deliveryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rings[deliveryID]

	return ok
}

func (s *Service) armLocked(entry *armedEntry) {
	id := entry.DeliveryID
	entry.entryID = s.engine.Schedule(trigger.ForSpec(&entry.Spec, s.loc), cron.FuncJob(func() { s.fire(id) }))
}

func (s *Service) disarmLocked(deliveryID string) {
	entry, ok := s.armed[deliveryID]
	if !ok {
		return
	}

	if entry.entryID != 0 {
		s.engine.Remove(entry.entryID)
	}

	delete(s.armed, deliveryID)
}

func (s *Service) silenceLocked(deliveryID string) {
	if r, ok := s.rings[deliveryID]; ok {
		r.stop()
		delete(s.rings, deliveryID)
	}
}

// persistLocked saves the armed table ordered by arming time.
func (s *Service) persistLocked(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	alarms := make([]alarm.Armed, 0, len(s.armed))
	for _, entry := range s.armed {
		alarms = append(alarms, entry.Armed)
	}

	slices.SortFunc(alarms, func(a, b alarm.Armed) int { return a.ArmedAt.Compare(b.ArmedAt) })

	if err := s.repo.Save(ctx, alarms); err != nil {
		return fmt.Errorf("persist armed alarms: %w", err)
	}

	return nil
}
