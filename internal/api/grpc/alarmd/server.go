package alarmd

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
)

// Daemon abstracts the business operations the transport layer depends on.
type Daemon interface {
	Schedule(ctx context.Context, spec alarm.DeliverySpec) (string, error)
	Cancel(ctx context.Context, deliveryID string) error
	CancelAll(ctx context.Context) error
	ListPending(ctx context.Context) []alarm.Pending
	Act(ctx context.Context, deliveryID string, action alarm.Action, actor *alarm.Actor) error
	Subscribe(buffer int) (<-chan alarm.DeliveryEvent, func())
}

// eventBuffer is the per-stream event buffer.
const eventBuffer = 64

// Server implements the AlarmDaemon gRPC API.
type Server struct {
	// daemon provides the business logic.
	daemon Daemon
	// version is reported by Ping.
	version string
}

// NewServer wires daemon into a gRPC handler.
func NewServer(daemon Daemon, version string) *Server {
	return &Server{
		daemon:  daemon,
		version: version,
	}
}

// Schedule arms an alarm.
func (s *Server) Schedule(ctx context.Context, req *ScheduleRequest) (*ScheduleResponse, error) {
	if req == nil || req.Spec == nil {
		return nil, status.Error(codes.InvalidArgument, "spec is required")
	}

	if req.Spec.LogicalID == "" {
		return nil, status.Error(codes.InvalidArgument, "logical id is required")
	}

	if req.Spec.Version > alarm.SpecVersion {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported spec version %d", req.Spec.Version)
	}

	deliveryID, err := s.daemon.Schedule(ctx, req.Spec.ToDomain())
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return &ScheduleResponse{DeliveryID: deliveryID}, nil
}

// Cancel disarms an alarm; unknown ids succeed.
func (s *Server) Cancel(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "delivery id is required")
	}

	if err := s.daemon.Cancel(ctx, req.GetValue()); err != nil {
		return nil, toStatus(ctx, err)
	}

	return &emptypb.Empty{}, nil
}

// CancelAll disarms every alarm.
func (s *Server) CancelAll(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.daemon.CancelAll(ctx); err != nil {
		return nil, toStatus(ctx, err)
	}

	return &emptypb.Empty{}, nil
}

// ListPending lists armed alarms.
func (s *Server) ListPending(ctx context.Context, _ *emptypb.Empty) (*ListPendingResponse, error) {
	pending := s.daemon.ListPending(ctx)

	resp := &ListPendingResponse{Alarms: make([]*PendingAlarm, 0, len(pending))}
	for i := range pending {
		resp.Alarms = append(resp.Alarms, PendingFromDomain(&pending[i]))
	}

	return resp, nil
}

// Act reports a user action on a ringing alarm.
func (s *Server) Act(ctx context.Context, req *ActRequest) (*emptypb.Empty, error) {
	if req == nil || req.DeliveryID == "" {
		return nil, status.Error(codes.InvalidArgument, "delivery id is required")
	}

	action, err := alarm.ParseAction(req.Action)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.daemon.Act(ctx, req.DeliveryID, action, req.Actor.ToDomain()); err != nil {
		return nil, toStatus(ctx, err)
	}

	return &emptypb.Empty{}, nil
}

// Events streams delivery events until the client leaves or the daemon stops.
func (s *Server) Events(_ *emptypb.Empty, stream EventsServer) error {
	ctx := stream.Context()

	events, unsubscribe := s.daemon.Subscribe(eventBuffer)
	defer unsubscribe()

	logger.Debug(ctx, "Event subscriber attached")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return status.Error(codes.Unavailable, "daemon is shutting down")
			}

			if err := stream.Send(EventFromDomain(&ev)); err != nil {
				return err
			}
		}
	}
}

// Ping returns the daemon version.
func (s *Server) Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.version), nil
}

// toStatus maps domain failures to gRPC codes.
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, alarm.ErrPastTime):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, alarm.ErrUnknownDeliveryID):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, alarm.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, alarm.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		logger.ErrorKV(ctx, "Daemon operation failed", "error", err)

		return status.Error(codes.Internal, "daemon operation failed")
	}
}
