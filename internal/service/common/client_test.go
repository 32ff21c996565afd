//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestAct_NilActor asserts that a nil actor is rejected by the client.
func TestAct_NilActor(t *testing.T) {
	t.Parallel()

	c := new(Client)

	err := c.Act(context.Background(), "d-1", alarm.ActionDismiss, nil)
	require.Error(t, err)
}

// TestFromStatus maps daemon codes onto domain errors.
func TestFromStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, FromStatus(nil))

	cases := []struct {
		code   codes.Code
		target error
		reason alarm.Reason
	}{
		{code: codes.Unimplemented, target: alarm.ErrUnsupported, reason: alarm.ReasonUnsupported},
		{code: codes.OutOfRange, target: alarm.ErrPastTime, reason: alarm.ReasonPastTime},
		{code: codes.PermissionDenied, target: alarm.ErrPermissionDenied, reason: alarm.ReasonPermissionDenied},
		{code: codes.NotFound, target: alarm.ErrUnknownDeliveryID, reason: alarm.ReasonTransport},
		{code: codes.Unavailable, target: alarm.ErrTransport, reason: alarm.ReasonTransport},
		{code: codes.DeadlineExceeded, target: alarm.ErrTransport, reason: alarm.ReasonTransport},
	}

	for _, tc := range cases {
		err := FromStatus(status.Error(tc.code, "boom"))
		require.ErrorIs(t, err, tc.target, tc.code.String())
		require.Equal(t, tc.reason, alarm.ReasonOf(err), tc.code.String())
		require.Equal(t, tc.code, status.Code(err))
	}

	err := FromStatus(errors.New("plain"))
	require.ErrorIs(t, err, alarm.ErrTransport)
}
