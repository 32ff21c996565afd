package primary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mitchellh/go-ps"
	"golang.org/x/time/rate"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/eventhub"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/service/common"
)

// Daemon is the part of the daemon client the backend uses.
type Daemon interface {
	Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error)
	Cancel(ctx context.Context, deliveryID string) error
	CancelAll(ctx context.Context) error
	ListPending(ctx context.Context) ([]alarm.Pending, error)
	Subscribe(ctx context.Context) (common.EventStream, error)
}

// Option configures a Backend.
type Option func(*Backend)

// WithProcessName makes Schedule fail with Unsupported unless a process with
// this executable name is running on this host.
func WithProcessName(name string) Option {
	return func(b *Backend) {
		b.processName = name
	}
}

// WithResubscribeInterval paces reconnects of the event stream.
func WithResubscribeInterval(every time.Duration) Option {
	return func(b *Backend) {
		if every > 0 {
			b.limiter = rate.NewLimiter(rate.Every(every), 1)
		}
	}
}

// defaultResubscribeInterval is the minimum time between event stream reconnects.
const defaultResubscribeInterval = 2 * time.Second

var errDaemonNotRunning = errors.New("alarm daemon process is not running")

// Backend is the primary delivery backend.
type Backend struct {
	daemon      Daemon
	hub         *eventhub.Hub
	limiter     *rate.Limiter
	processName string
	// processes lists running processes; replaced in tests.
	processes func() ([]ps.Process, error)
}

// New wraps daemon.
func New(daemon Daemon, opts ...Option) *Backend {
	b := &Backend{
		daemon:    daemon,
		hub:       eventhub.New(),
		limiter:   rate.NewLimiter(rate.Every(defaultResubscribeInterval), 1),
		processes: ps.Processes,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Kind implements the scheduler backend.
func (*Backend) Kind() alarm.BackendKind {
	return alarm.BackendPrimary
}

// Schedule arms spec at the daemon.
func (b *Backend) Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error) {
	if err := b.checkProcess(); err != nil {
		return "", alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonUnsupported, err)
	}

	deliveryID, err := b.daemon.Schedule(ctx, spec)
	if err != nil {
		return "", alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonOf(err), err)
	}

	return deliveryID, nil
}

// Cancel disarms deliveryID; ids the daemon no longer knows are fine.
func (b *Backend) Cancel(ctx context.Context, deliveryID string) error {
	err := b.daemon.Cancel(ctx, deliveryID)
	if err == nil || errors.Is(err, alarm.ErrUnknownDeliveryID) {
		return nil
	}

	return alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonOf(err), err)
}

// CancelAll disarms every alarm at the daemon.
func (b *Backend) CancelAll(ctx context.Context) error {
	if err := b.daemon.CancelAll(ctx); err != nil {
		return alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonOf(err), err)
	}

	return nil
}

// QueryPending returns the delivery ids armed at the daemon.
func (b *Backend) QueryPending(ctx context.Context) ([]string, error) {
	pending, err := b.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.DeliveryID)
	}

	return ids, nil
}

// ListPending returns the alarms armed at the daemon with their payloads.
func (b *Backend) ListPending(ctx context.Context) ([]alarm.Pending, error) {
	pending, err := b.daemon.ListPending(ctx)
	if err != nil {
		return nil, alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonOf(err), err)
	}

	return pending, nil
}

// Subscribe returns a stream of delivery events relayed from the daemon by Run.
func (b *Backend) Subscribe(buffer int) (<-chan alarm.DeliveryEvent, func()) {
	return b.hub.Subscribe(buffer)
}

// Run relays daemon events to subscribers until ctx is done, reconnecting
// at a bounded rate whenever the stream breaks. Subscriptions are closed on return.
func (b *Backend) Run(ctx context.Context) {
	ctx = logger.WithName(ctx, "primary-events")
	defer b.hub.Close()

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}

		stream, err := b.daemon.Subscribe(ctx)
		if err != nil {
			logger.WarnKV(ctx, "Subscribing to daemon events failed", "error", err)
			continue
		}

		logger.Debug(ctx, "Subscribed to daemon events")

		err = b.relay(stream)

		if ctx.Err() != nil {
			return
		}

		logger.WarnKV(ctx, "Daemon event stream broke, resubscribing", "error", err)
	}
}

func (b *Backend) relay(stream common.EventStream) error {
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream closed: %w", err)
			}

			return err
		}

		ev.Backend = alarm.BackendPrimary
		b.hub.Publish(ev)
	}
}

// checkProcess checks that the daemon process runs, when a process name is configured.
func (b *Backend) checkProcess() error {
	if b.processName == "" {
		return nil
	}

	list, err := b.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, p := range list {
		if p.Executable() == b.processName {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", errDaemonNotRunning, b.processName)
}
