package eventhub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// TestHub_FanOut delivers every event to every subscriber.
func TestHub_FanOut(t *testing.T) {
	t.Parallel()

	h := New()

	a, unsubA := h.Subscribe(4)
	defer unsubA()

	b, unsubB := h.Subscribe(4)
	defer unsubB()

	ev := alarm.DeliveryEvent{Kind: alarm.EventDelivered, DeliveryID: "d-1"}
	h.Publish(ev)

	require.Equal(t, ev, <-a)
	require.Equal(t, ev, <-b)
	require.Equal(t, 2, h.Subscribers())
}

// TestHub_SlowSubscriberDrops verifies Publish does not block on a full buffer.
func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	h := New()

	ch, unsub := h.Subscribe(1)
	defer unsub()

	h.Publish(alarm.DeliveryEvent{DeliveryID: "first"})
	h.Publish(alarm.DeliveryEvent{DeliveryID: "second"})

	require.Equal(t, "first", (<-ch).DeliveryID)
	require.Equal(t, uint64(1), h.Dropped())
}

// TestHub_UnsubscribeAndClose closes channels exactly once.
func TestHub_UnsubscribeAndClose(t *testing.T) {
	t.Parallel()

	h := New()

	ch, unsub := h.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)

	other, unsubOther := h.Subscribe(1)
	h.Close()
	unsubOther()
	h.Close()

	_, ok = <-other
	require.False(t, ok)

	late, _ := h.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)

	h.Publish(alarm.DeliveryEvent{DeliveryID: "after-close"})
	require.Zero(t, h.Subscribers())
}
