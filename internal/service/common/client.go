//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/alarm-keeper/internal/api/grpc/alarmd"
	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// Client wraps the alarm daemon gRPC client with timeouts and domain types.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// api is the typed daemon client.
	api *api.Client

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// EventStream yields delivery events reported by the daemon.
type EventStream interface {
	Recv() (alarm.DeliveryEvent, error)
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
)

// Dial establishes a gRPC connection to the alarm daemon.
// Note: this uses insecure transport credentials; the daemon is meant to
// listen on loopback or a trusted network.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial alarm daemon: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Schedule arms spec at the daemon and returns its delivery id.
func (c *Client) Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.Schedule(callCtx, &api.ScheduleRequest{Spec: api.SpecFromDomain(&spec)})
	if err != nil {
		return "", fmt.Errorf("schedule alarm: %w", FromStatus(err))
	}

	return resp.DeliveryID, nil
}

// Cancel disarms deliveryID at the daemon.
func (c *Client) Cancel(ctx context.Context, deliveryID string) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.Cancel(callCtx, wrapperspb.String(deliveryID)); err != nil {
		return fmt.Errorf("cancel alarm: %w", FromStatus(err))
	}

	return nil
}

// CancelAll disarms every alarm at the daemon.
func (c *Client) CancelAll(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.CancelAll(callCtx, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("cancel all alarms: %w", FromStatus(err))
	}

	return nil
}

// ListPending returns the daemon's armed alarms ordered by next fire time.
func (c *Client) ListPending(ctx context.Context) ([]alarm.Pending, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.ListPending(callCtx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("list pending alarms: %w", FromStatus(err))
	}

	result := make([]alarm.Pending, 0, len(resp.Alarms))
	for _, p := range resp.Alarms {
		if p != nil {
			result = append(result, p.ToDomain())
		}
	}

	return result, nil
}

// Act reports a user action on a ringing alarm.
func (c *Client) Act(ctx context.Context, deliveryID string, action alarm.Action, actor *alarm.Actor) error {
	if actor == nil {
		return errActorRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	request := &api.ActRequest{
		DeliveryID: deliveryID,
		Action:     string(action),
		Actor:      api.ActorFromDomain(actor),
	}

	if _, err := c.api.Act(callCtx, request); err != nil {
		return fmt.Errorf("act on alarm: %w", FromStatus(err))
	}

	return nil
}

// Ping returns the daemon version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.Ping(callCtx, &emptypb.Empty{})
	if err != nil {
		return "", fmt.Errorf("ping alarm daemon: %w", FromStatus(err))
	}

	return resp.GetValue(), nil
}

// Subscribe opens the daemon event stream. The stream lives until ctx is done;
// it is not bound by the call timeout.
//
//nolint:ireturn // The stream is consumed through its interface.
func (c *Client) Subscribe(ctx context.Context) (EventStream, error) {
	stream, err := c.api.Events(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("subscribe to alarm events: %w", FromStatus(err))
	}

	return &eventStream{stream: stream}, nil
}

type eventStream struct {
	stream api.EventsClient
}

func (s *eventStream) Recv() (alarm.DeliveryEvent, error) {
	ev, err := s.stream.Recv()
	if err != nil {
		return alarm.DeliveryEvent{}, FromStatus(err)
	}

	return ev.ToDomain(alarm.BackendPrimary), nil
}

// FromStatus maps a daemon status error onto the domain sentinels, keeping
// the original error in the chain.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}

	var sentinel error

	switch status.Code(err) {
	case codes.OK:
		return err
	case codes.Unimplemented:
		sentinel = alarm.ErrUnsupported
	case codes.OutOfRange:
		sentinel = alarm.ErrPastTime
	case codes.PermissionDenied:
		sentinel = alarm.ErrPermissionDenied
	case codes.NotFound:
		sentinel = alarm.ErrUnknownDeliveryID
	case codes.Canceled:
		sentinel = context.Canceled
	default:
		sentinel = alarm.ErrTransport
	}

	return fmt.Errorf("%w: %w", sentinel, err)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
