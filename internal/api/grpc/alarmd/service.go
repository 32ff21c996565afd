package alarmd

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmkeeper.v1.AlarmDaemon"

// AlarmDaemonServer is the server API of the alarm daemon.
type AlarmDaemonServer interface {
	Schedule(ctx context.Context, req *ScheduleRequest) (*ScheduleResponse, error)
	Cancel(ctx context.Context, deliveryID *wrapperspb.StringValue) (*emptypb.Empty, error)
	CancelAll(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	ListPending(ctx context.Context, req *emptypb.Empty) (*ListPendingResponse, error)
	Act(ctx context.Context, req *ActRequest) (*emptypb.Empty, error)
	Events(req *emptypb.Empty, stream EventsServer) error
	Ping(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// EventsServer is the server side of the Events stream.
type EventsServer interface {
	Send(ev *Event) error
	grpc.ServerStream
}

// EventsClient is the client side of the Events stream.
type EventsClient interface {
	Recv() (*Event, error)
	grpc.ClientStream
}

// ServiceDesc describes the alarm daemon service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // gRPC service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmDaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Schedule",
			Handler:    unary("Schedule", AlarmDaemonServer.Schedule),
		},
		{
			MethodName: "Cancel",
			Handler:    unary("Cancel", AlarmDaemonServer.Cancel),
		},
		{
			MethodName: "CancelAll",
			Handler:    unary("CancelAll", AlarmDaemonServer.CancelAll),
		},
		{
			MethodName: "ListPending",
			Handler:    unary("ListPending", AlarmDaemonServer.ListPending),
		},
		{
			MethodName: "Act",
			Handler:    unary("Act", AlarmDaemonServer.Act),
		},
		{
			MethodName: "Ping",
			Handler:    unary("Ping", AlarmDaemonServer.Ping),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Events",
			Handler:       eventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "alarmkeeper/v1/alarmd",
}

// RegisterAlarmDaemonServer registers srv on s.
func RegisterAlarmDaemonServer(s grpc.ServiceRegistrar, srv AlarmDaemonServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary adapts a typed server method to grpc.MethodHandler.
func unary[Req, Resp any](
	method string,
	call func(AlarmDaemonServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(AlarmDaemonServer)

		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}

		handler := func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(*Req)
			return call(server, ctx, typed)
		}

		return interceptor(ctx, in, info, handler)
	}
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	server, _ := srv.(AlarmDaemonServer)

	return server.Events(in, &eventsServer{ServerStream: stream})
}

type eventsServer struct {
	grpc.ServerStream
}

func (s *eventsServer) Send(ev *Event) error {
	return s.ServerStream.SendMsg(ev)
}

// Client is a typed client of the alarm daemon. Every call is sent with the
// daemon's JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// Schedule arms an alarm.
func (c *Client) Schedule(ctx context.Context, in *ScheduleRequest, opts ...grpc.CallOption) (*ScheduleResponse, error) {
	out := new(ScheduleResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Schedule"), in, out, withCodec(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// Cancel disarms an alarm.
func (c *Client) Cancel(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, fullMethod("Cancel"), in, out, withCodec(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// CancelAll disarms every alarm.
func (c *Client) CancelAll(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, fullMethod("CancelAll"), in, out, withCodec(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// ListPending lists armed alarms.
func (c *Client) ListPending(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*ListPendingResponse, error) {
	out := new(ListPendingResponse)
	if err := c.cc.Invoke(ctx, fullMethod("ListPending"), in, out, withCodec(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// Act reports a user action.
func (c *Client) Act(ctx context.Context, in *ActRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, fullMethod("Act"), in, out, withCodec(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// Ping returns the daemon version.
func (c *Client) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, fullMethod("Ping"), in, out, withCodec(opts)...); err != nil {
		return nil, err
	}

	return out, nil
}

// Events opens the delivery event stream.
//
//nolint:ireturn // The stream is consumed through its interface.
func (c *Client) Events(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (EventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Events"), withCodec(opts)...)
	if err != nil {
		return nil, err
	}

	x := &eventsClient{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}

	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}

type eventsClient struct {
	grpc.ClientStream
}

func (x *eventsClient) Recv() (*Event, error) {
	m := new(Event)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}

	return m, nil
}
