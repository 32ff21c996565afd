package alarmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// fakeDaemon implements Daemon for unit testing the transport.
type fakeDaemon struct {
	// err is returned by every mutating call when set.
	err error

	scheduled []alarm.DeliverySpec
	cancelled []string
	acted     []string
	actor     *alarm.Actor
	pending   []alarm.Pending
}

func (f *fakeDaemon) Schedule(_ context.Context, spec alarm.DeliverySpec) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.scheduled = append(f.scheduled, spec)

	return fmt.Sprintf("d-%d", len(f.scheduled)), nil
}

func (f *fakeDaemon) Cancel(_ context.Context, deliveryID string) error {
	f.cancelled = append(f.cancelled, deliveryID)
	return f.err
}

func (f *fakeDaemon) CancelAll(context.Context) error { return f.err }

func (f *fakeDaemon) ListPending(context.Context) []alarm.Pending { return f.pending }

func (f *fakeDaemon) Act(_ context.Context, deliveryID string, action alarm.Action, actor *alarm.Actor) error {
	if f.err != nil {
		return f.err
	}

	f.acted = append(f.acted, deliveryID+":"+string(action))
	f.actor = actor

	return nil
}

func (f *fakeDaemon) Subscribe(int) (<-chan alarm.DeliveryEvent, func()) {
	ch := make(chan alarm.DeliveryEvent)
	close(ch)

	return ch, func() {}
}

func sampleSpec() alarm.DeliverySpec {
	req := &alarm.Request{
		ID:      "wake",
		Title:   "Wake up",
		Actions: alarm.Actions{Snooze: &alarm.SnoozeAction{Label: "Later", Minutes: 9}},
	}

	return alarm.NewDeliverySpec(req, time.Date(2026, 10, 17, 6, 30, 0, 0, time.UTC), alarm.DefaultSnoozeMinutes)
}

// TestServer_Schedule_Validation ensures malformed requests return InvalidArgument.
func TestServer_Schedule_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(new(fakeDaemon), "test")

	for _, req := range []*ScheduleRequest{
		nil,
		{},
		{Spec: &Spec{}},
		{Spec: &Spec{LogicalID: "a", Version: alarm.SpecVersion + 1}},
	} {
		_, err := s.Schedule(context.Background(), req)
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	}
}

// TestServer_Schedule passes the spec through unchanged.
func TestServer_Schedule(t *testing.T) {
	t.Parallel()

	daemon := new(fakeDaemon)
	s := NewServer(daemon, "test")
	spec := sampleSpec()

	resp, err := s.Schedule(context.Background(), &ScheduleRequest{Spec: SpecFromDomain(&spec)})
	require.NoError(t, err)
	require.Equal(t, "d-1", resp.DeliveryID)
	require.Equal(t, []alarm.DeliverySpec{spec}, daemon.scheduled)
}

// TestServer_ErrorMapping maps domain failures to gRPC codes.
func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code codes.Code
	}{
		{err: alarm.NewBackendError(alarm.BackendPrimary, alarm.ReasonPastTime, nil), code: codes.OutOfRange},
		{err: fmt.Errorf("act: %w", alarm.ErrUnknownDeliveryID), code: codes.NotFound},
		{err: alarm.ErrUnsupported, code: codes.Unimplemented},
		{err: alarm.ErrPermissionDenied, code: codes.PermissionDenied},
		{err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{err: errors.New("disk full"), code: codes.Internal},
	}

	for _, tc := range cases {
		s := NewServer(&fakeDaemon{err: tc.err}, "test")
		spec := sampleSpec()

		_, err := s.Schedule(context.Background(), &ScheduleRequest{Spec: SpecFromDomain(&spec)})
		require.Equal(t, tc.code, status.Code(err), tc.err.Error())
	}
}

// TestServer_Act validates the action and forwards the actor.
func TestServer_Act(t *testing.T) {
	t.Parallel()

	daemon := new(fakeDaemon)
	s := NewServer(daemon, "test")

	_, err := s.Act(context.Background(), &ActRequest{DeliveryID: "d-1", Action: "explode"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Act(context.Background(), &ActRequest{Action: "snooze"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Act(context.Background(), &ActRequest{
		DeliveryID: "d-1",
		Action:     "Dismiss",
		Actor:      &Actor{Hostname: "kitchen", Username: "ann"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"d-1:dismiss"}, daemon.acted)
	require.Equal(t, "ann@kitchen", daemon.actor.String())
}

// TestServer_CancelAndPending covers Cancel, ListPending and Ping.
func TestServer_CancelAndPending(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 10, 17, 6, 30, 0, 0, time.UTC)
	daemon := &fakeDaemon{
		pending: []alarm.Pending{{
			Armed:      alarm.Armed{DeliveryID: "d-1", Spec: sampleSpec(), ArmedAt: next.Add(-time.Hour)},
			NextFireAt: next,
		}},
	}
	s := NewServer(daemon, "1.2.3")

	_, err := s.Cancel(context.Background(), wrapperspb.String(""))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Cancel(context.Background(), wrapperspb.String("d-9"))
	require.NoError(t, err)
	require.Equal(t, []string{"d-9"}, daemon.cancelled)

	resp, err := s.ListPending(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	require.Len(t, resp.Alarms, 1)

	got := resp.Alarms[0].ToDomain()
	require.Equal(t, "d-1", got.DeliveryID)
	require.True(t, got.NextFireAt.Equal(next))
	require.Equal(t, sampleSpec(), got.Spec)

	version, err := s.Ping(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	require.Equal(t, "1.2.3", version.GetValue())
}

// TestCodec encodes well-known types with protojson and records with JSON.
func TestCodec(t *testing.T) {
	t.Parallel()

	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	data, err := c.Marshal(wrapperspb.String("d-1"))
	require.NoError(t, err)
	require.JSONEq(t, `"d-1"`, string(data))

	var id wrapperspb.StringValue
	require.NoError(t, c.Unmarshal(data, &id))
	require.Equal(t, "d-1", id.GetValue())

	data, err = c.Marshal(&ActRequest{DeliveryID: "d-1", Action: "snooze"})
	require.NoError(t, err)
	require.JSONEq(t, `{"delivery_id":"d-1","action":"snooze"}`, string(data))
}

// TestEvent_ToDomain maps kinds back and keeps the spec.
func TestEvent_ToDomain(t *testing.T) {
	t.Parallel()

	spec := sampleSpec()
	at := time.Date(2026, 10, 17, 6, 31, 0, 0, time.UTC)

	wire := EventFromDomain(&alarm.DeliveryEvent{
		Kind:       alarm.EventAction,
		DeliveryID: "d-1",
		Action:     alarm.ActionSnooze,
		At:         at,
		Spec:       &spec,
	})

	got := wire.ToDomain(alarm.BackendPrimary)
	require.Equal(t, alarm.EventAction, got.Kind)
	require.Equal(t, alarm.BackendPrimary, got.Backend)
	require.Equal(t, alarm.ActionSnooze, got.Action)
	require.True(t, got.At.Equal(at))
	require.Equal(t, &spec, got.Spec)
}

// TestServiceDesc_MatchesProto keeps the descriptor in line with alarmd.proto.
func TestServiceDesc_MatchesProto(t *testing.T) {
	t.Parallel()

	contract, err := os.ReadFile("alarmd.proto")
	require.NoError(t, err)

	require.Contains(t, string(contract), "package alarmkeeper.v1;")
	require.Contains(t, string(contract), "service AlarmDaemon {")

	rpcs := regexp.MustCompile(`rpc (\w+)\(`).FindAllStringSubmatch(string(contract), -1)

	declared := make([]string, 0, len(rpcs))
	for _, m := range rpcs {
		declared = append(declared, m[1])
	}

	described := make([]string, 0, len(ServiceDesc.Methods)+len(ServiceDesc.Streams))
	for _, m := range ServiceDesc.Methods {
		described = append(described, m.MethodName)
	}

	for _, s := range ServiceDesc.Streams {
		described = append(described, s.StreamName)
	}

	require.ElementsMatch(t, declared, described)
	require.Equal(t, "alarmkeeper.v1.AlarmDaemon", ServiceName)
}
