package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/permission"
	"github.com/oshokin/alarm-keeper/internal/registry"
)

// Backend is a delivery mechanism the scheduler can hand alarms to.
type Backend interface {
	Kind() alarm.BackendKind
	Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error)
	// Cancel is idempotent.
	Cancel(ctx context.Context, deliveryID string) error
	CancelAll(ctx context.Context) error
	// QueryPending returns alarm.ErrUnsupported when the backend cannot introspect.
	QueryPending(ctx context.Context) ([]string, error)
}

// PermissionProvider answers whether alarms may be shown.
type PermissionProvider interface {
	Check(ctx context.Context) (permission.Status, error)
	Request(ctx context.Context) (permission.Status, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultSnooze sets the snooze length for requests without a snooze action.
func WithDefaultSnooze(minutes int) Option {
	return func(s *Scheduler) {
		if minutes > 0 {
			s.defaultSnooze = minutes
		}
	}
}

var (
	// ErrInvalidRequest is returned for a nil request or an empty logical id.
	ErrInvalidRequest = errors.New("alarm request must have an id")
	// errEmptyDeliveryID is reported when a backend accepts an alarm without an id.
	errEmptyDeliveryID = errors.New("backend returned an empty delivery id")
)

// Scheduler normalizes, delivers and records alarms, demoting from the
// primary backend to the fallback when the primary refuses.
type Scheduler struct {
	registry   *registry.Registry
	primary    Backend
	fallback   Backend
	permission PermissionProvider

	now           func() time.Time
	defaultSnooze int

	// locks serializes operations per logical id.
	locks *keyedLocks
	// gate lets CancelAll exclude every per-id operation.
	gate sync.RWMutex

	// mu guards the status flags below.
	mu            sync.RWMutex
	initialized   bool
	hasPermission bool
	lastErr       error
}

// New wires a scheduler. Either backend may be nil, which counts as Unsupported;
// a nil permission provider counts as granted.
func New(reg *registry.Registry, primary, fallback Backend, perm PermissionProvider, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:      reg,
		primary:       primary,
		fallback:      fallback,
		permission:    perm,
		now:           time.Now,
		defaultSnooze: alarm.DefaultSnoozeMinutes,
		locks:         newKeyedLocks(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize checks permission and requests it once when denied.
// It is a no-op after the first success.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.RLock()
	done := s.initialized
	s.mu.RUnlock()

	if done {
		return nil
	}

	granted := true

	if s.permission != nil {
		status, err := s.permission.Check(ctx)
		if err != nil {
			s.setLastError(err)
			return fmt.Errorf("check permission: %w", err)
		}

		if status != permission.Granted {
			logger.Info(ctx, "Alarm permission not granted, requesting")

			if status, err = s.permission.Request(ctx); err != nil {
				s.setLastError(err)
				return fmt.Errorf("request permission: %w", err)
			}
		}

		granted = status == permission.Granted
	}

	s.mu.Lock()
	s.hasPermission = granted
	s.initialized = granted
	s.mu.Unlock()

	if !granted {
		err := fmt.Errorf("initialize scheduler: %w", alarm.ErrPermissionDenied)
		s.setLastError(err)

		return err
	}

	logger.Info(ctx, "Alarm scheduler initialized")

	return nil
}

// Schedule replaces any active alarm for req.ID with a new one.
func (s *Scheduler) Schedule(ctx context.Context, req *alarm.Request) (*alarm.ScheduledAlarm, error) {
	return s.schedule(ctx, req, "")
}

// Replace schedules req only while deliveryID is still the active delivery of
// req.ID. It returns alarm.ErrUnknownDeliveryID when the alarm was replaced or
// cancelled meanwhile, so a stale event cannot clobber a newer schedule.
func (s *Scheduler) Replace(ctx context.Context, deliveryID string, req *alarm.Request) (*alarm.ScheduledAlarm, error) {
	if deliveryID == "" {
		return nil, alarm.ErrUnknownDeliveryID
	}

	return s.schedule(ctx, req, deliveryID)
}

func (s *Scheduler) schedule(ctx context.Context, req *alarm.Request, expectDeliveryID string) (*alarm.ScheduledAlarm, error) {
	if req == nil || req.ID == "" {
		return nil, ErrInvalidRequest
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	unlock := s.locks.lock(req.ID)
	defer unlock()

	ctx = logger.WithKV(ctx, "logical_id", req.ID)

	if err := s.checkPermission(ctx, req.ID); err != nil {
		s.setLastError(err)
		return nil, err
	}

	previous, hasPrevious := s.registry.FindByLogicalID(req.ID)
	if expectDeliveryID != "" && (!hasPrevious || previous.DeliveryID != expectDeliveryID) {
		return nil, fmt.Errorf("replace alarm %q: %w", req.ID, alarm.ErrUnknownDeliveryID)
	}

	if hasPrevious {
		s.cancelEntry(ctx, previous)
		s.registry.RemoveByLogicalID(req.ID)
	}

	now := s.now()
	fireAt := alarm.Normalize(req.ScheduledTime, now, req.RepeatDaily)

	if !fireAt.Equal(req.ScheduledTime) {
		logger.DebugKV(ctx, "Fire time normalized", "requested", req.ScheduledTime, "fire_at", fireAt)
	}

	spec := alarm.NewDeliverySpec(req, fireAt, s.defaultSnooze)

	kind, deliveryID, err := s.deliver(ctx, spec)
	if err != nil {
		s.setLastError(err)
		logger.ErrorKV(ctx, "Alarm could not be scheduled", "error", err)

		return nil, err
	}

	entry := &alarm.ScheduledAlarm{
		LogicalID:     req.ID,
		DeliveryID:    deliveryID,
		Backend:       kind,
		FireAt:        fireAt,
		RepeatDaily:   req.RepeatDaily,
		SnoozeMinutes: spec.SnoozeMinutes,
		Request:       req.Clone(),
		Phase:         alarm.PhaseScheduled,
	}
	s.registry.Put(entry)

	logger.InfoKV(
		ctx,
		"Alarm scheduled",
		"delivery_id", deliveryID,
		"backend", kind.String(),
		"fire_at", fireAt,
		"repeat_daily", req.RepeatDaily,
	)

	return entry, nil
}

// deliver tries the primary backend, then the fallback exactly once.
func (s *Scheduler) deliver(ctx context.Context, spec alarm.DeliverySpec) (alarm.BackendKind, string, error) {
	deliveryID, primaryErr := s.try(ctx, s.primary, alarm.BackendPrimary, spec)
	if primaryErr == nil {
		return alarm.BackendPrimary, deliveryID, nil
	}

	logger.WarnKV(
		ctx,
		"Primary backend refused alarm, demoting to fallback",
		"reason", alarm.ReasonOf(primaryErr).String(),
		"error", primaryErr,
	)

	deliveryID, fallbackErr := s.try(ctx, s.fallback, alarm.BackendFallback, spec)
	if fallbackErr == nil {
		return alarm.BackendFallback, deliveryID, nil
	}

	return 0, "", &alarm.SchedulingError{
		LogicalID: spec.LogicalID,
		Primary:   primaryErr,
		Fallback:  fallbackErr,
	}
}

// try calls one backend and normalizes its failure into *alarm.BackendError.
func (s *Scheduler) try(ctx context.Context, b Backend, kind alarm.BackendKind, spec alarm.DeliverySpec) (string, error) {
	if b == nil {
		return "", alarm.NewBackendError(kind, alarm.ReasonUnsupported, nil)
	}

	deliveryID, err := b.Schedule(ctx, spec.Clone())
	if err != nil {
		var backendErr *alarm.BackendError
		if errors.As(err, &backendErr) {
			return "", err
		}

		return "", alarm.NewBackendError(kind, alarm.ReasonOf(err), err)
	}

	if deliveryID == "" {
		return "", alarm.NewBackendError(kind, alarm.ReasonTransport, errEmptyDeliveryID)
	}

	return deliveryID, nil
}

// checkPermission fails with alarm.ErrPermissionDenied unless permission is granted.
func (s *Scheduler) checkPermission(ctx context.Context, logicalID string) error {
	if s.permission == nil {
		return nil
	}

	status, err := s.permission.Check(ctx)
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}

	granted := status == permission.Granted

	s.mu.Lock()
	s.hasPermission = granted
	s.mu.Unlock()

	if !granted {
		return fmt.Errorf("schedule alarm %q: %w", logicalID, alarm.ErrPermissionDenied)
	}

	return nil
}

// Cancel removes the alarm for logicalID. Unknown ids are a no-op and backend
// failures are logged, never returned.
func (s *Scheduler) Cancel(ctx context.Context, logicalID string) {
	s.cancelMatching(ctx, logicalID, "")
}

// CancelDelivery cancels logicalID only while deliveryID is its active delivery.
// It reports whether anything was cancelled.
func (s *Scheduler) CancelDelivery(ctx context.Context, logicalID, deliveryID string) bool {
	if deliveryID == "" {
		return false
	}

	return s.cancelMatching(ctx, logicalID, deliveryID)
}

func (s *Scheduler) cancelMatching(ctx context.Context, logicalID, deliveryID string) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()

	unlock := s.locks.lock(logicalID)
	defer unlock()

	ctx = logger.WithKV(ctx, "logical_id", logicalID)

	entry, ok := s.registry.FindByLogicalID(logicalID)
	if !ok || (deliveryID != "" && entry.DeliveryID != deliveryID) {
		return false
	}

	s.cancelEntry(ctx, entry)
	s.registry.RemoveByLogicalID(logicalID)

	logger.InfoKV(ctx, "Alarm cancelled", "delivery_id", entry.DeliveryID, "backend", entry.Backend.String())

	return true
}

// AdvanceRepeat ends the current occurrence of a repeating alarm without
// touching the backend, whose own repeat stays armed. The entry moves to the
// first occurrence after at. It reports false for stale or one-shot alarms.
func (s *Scheduler) AdvanceRepeat(ctx context.Context, logicalID, deliveryID string, at time.Time) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()

	unlock := s.locks.lock(logicalID)
	defer unlock()

	entry, ok := s.registry.FindByLogicalID(logicalID)
	if !ok || entry.DeliveryID != deliveryID || !entry.RepeatDaily {
		return false
	}

	for !entry.FireAt.After(at) {
		entry.FireAt = entry.FireAt.AddDate(0, 0, 1)
	}

	entry.Phase = alarm.PhaseScheduled
	entry.DeliveredAt = time.Time{}
	s.registry.Put(entry)

	logger.InfoKV(ctx, "Repeating alarm occurrence dismissed", "logical_id", logicalID, "next_fire_at", entry.FireAt)

	return true
}

// CancelAll cancels everything on both backends and clears the registry.
func (s *Scheduler) CancelAll(ctx context.Context) {
	s.gate.Lock()
	defer s.gate.Unlock()

	for _, b := range s.backends() {
		if err := b.CancelAll(ctx); err != nil {
			logger.WarnKV(ctx, "Backend failed to cancel all alarms", "backend", b.Kind().String(), "error", err)
		}
	}

	s.registry.Clear()

	logger.Info(ctx, "All alarms cancelled")
}

// Adopt takes over alarms a backend kept from an earlier run, so they are
// tracked without being re-armed. The most recently armed delivery wins for
// each logical id; other deliveries of that id are cancelled at the backend.
// Logical ids the registry already holds are left alone. It returns the
// number of alarms adopted.
func (s *Scheduler) Adopt(ctx context.Context, kind alarm.BackendKind, pending []alarm.Pending) int {
	b := s.backend(kind)
	if b == nil {
		return 0
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	ordered := slices.Clone(pending)
	slices.SortStableFunc(ordered, func(x, y alarm.Pending) int {
		return y.ArmedAt.Compare(x.ArmedAt)
	})

	adopted := 0

	for i := range ordered {
		if s.adopt(ctx, b, &ordered[i]) {
			adopted++
		}
	}

	return adopted
}

func (s *Scheduler) adopt(ctx context.Context, b Backend, p *alarm.Pending) bool {
	logicalID := p.Spec.LogicalID
	if logicalID == "" {
		return false
	}

	unlock := s.locks.lock(logicalID)
	defer unlock()

	ctx = logger.WithKV(ctx, "logical_id", logicalID, "delivery_id", p.DeliveryID)

	if current, ok := s.registry.FindByLogicalID(logicalID); ok {
		if current.DeliveryID == p.DeliveryID {
			return false
		}

		if err := b.Cancel(ctx, p.DeliveryID); err != nil {
			logger.WarnKV(ctx, "Backend failed to cancel duplicate alarm", "backend", b.Kind().String(), "error", err)
		} else {
			logger.InfoKV(ctx, "Duplicate alarm cancelled", "kept_delivery_id", current.DeliveryID)
		}

		return false
	}

	fireAt := p.NextFireAt
	if fireAt.IsZero() {
		fireAt = p.Spec.FireAt()
	}

	s.registry.Put(&alarm.ScheduledAlarm{
		LogicalID:     logicalID,
		DeliveryID:    p.DeliveryID,
		Backend:       b.Kind(),
		FireAt:        fireAt,
		RepeatDaily:   p.Spec.RepeatDaily,
		SnoozeMinutes: p.Spec.SnoozeMinutes,
		Request:       p.Spec.Request(),
		Phase:         alarm.PhaseScheduled,
	})

	logger.InfoKV(ctx, "Alarm adopted", "backend", b.Kind().String(), "fire_at", fireAt, "repeat_daily", p.Spec.RepeatDaily)

	return true
}

// VerifyRepeats re-schedules repeating alarms whose delivery id the owning
// backend no longer reports as pending. Backends that cannot introspect are
// skipped. It returns the number of alarms re-armed.
func (s *Scheduler) VerifyRepeats(ctx context.Context) int {
	// Entries are read before the backends are asked, so an alarm armed in
	// between is not in the list and cannot look lost.
	active := s.registry.ListActive()

	pending := make(map[alarm.BackendKind][]string, 2)

	for _, b := range s.backends() {
		ids, err := b.QueryPending(ctx)
		if err != nil {
			if !errors.Is(err, alarm.ErrUnsupported) {
				logger.WarnKV(ctx, "Backend failed to list pending alarms", "backend", b.Kind().String(), "error", err)
			}

			continue
		}

		pending[b.Kind()] = ids
	}

	rearmed := 0

	for _, entry := range active {
		ids, known := pending[entry.Backend]
		if !entry.RepeatDaily || !known || slices.Contains(ids, entry.DeliveryID) {
			continue
		}

		req := entry.Request.Clone()
		req.ScheduledTime = entry.FireAt

		logger.WarnKV(ctx, "Repeating alarm lost by backend, re-arming",
			"logical_id", entry.LogicalID,
			"delivery_id", entry.DeliveryID,
			"backend", entry.Backend.String(),
		)

		_, err := s.Replace(ctx, entry.DeliveryID, req)
		switch {
		case errors.Is(err, alarm.ErrUnknownDeliveryID):
			// Replaced or cancelled since the list was read.
			continue
		case err != nil:
			logger.ErrorKV(ctx, "Re-arming repeating alarm failed", "logical_id", entry.LogicalID, "error", err)
			continue
		}

		rearmed++
	}

	return rearmed
}

// cancelEntry cancels entry at the backend that holds it; failures are logged.
func (s *Scheduler) cancelEntry(ctx context.Context, entry *alarm.ScheduledAlarm) {
	b := s.backend(entry.Backend)
	if b == nil {
		return
	}

	if err := b.Cancel(ctx, entry.DeliveryID); err != nil {
		logger.WarnKV(
			ctx,
			"Backend failed to cancel alarm",
			"delivery_id", entry.DeliveryID,
			"backend", entry.Backend.String(),
			"error", err,
		)
	}
}

// backend returns the backend for kind, or nil.
//
//nolint:ireturn // Backends are interchangeable by design of the capability.
func (s *Scheduler) backend(kind alarm.BackendKind) Backend {
	switch kind {
	case alarm.BackendPrimary:
		return s.primary
	case alarm.BackendFallback:
		return s.fallback
	default:
		return nil
	}
}

// backends returns the configured backends in demotion order.
func (s *Scheduler) backends() []Backend {
	result := make([]Backend, 0, 2)

	for _, b := range []Backend{s.primary, s.fallback} {
		if b != nil {
			result = append(result, b)
		}
	}

	return result
}

// Initialized reports whether Initialize succeeded.
func (s *Scheduler) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.initialized
}

// HasPermission reports the last permission answer.
func (s *Scheduler) HasPermission() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasPermission
}

// LastError returns the last user-visible failure, or nil.
func (s *Scheduler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastErr
}

// ClearError forgets the last failure.
func (s *Scheduler) ClearError() {
	s.setLastError(nil)
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
}
