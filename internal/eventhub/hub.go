package eventhub

import (
	"sync"
	"sync/atomic"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// DefaultBuffer is the subscriber buffer used when none is given.
const DefaultBuffer = 32

// Hub is an in-memory fan-out of delivery events.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan alarm.DeliveryEvent
	seq    uint64
	closed bool

	dropped atomic.Uint64
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[uint64]chan alarm.DeliveryEvent)}
}

// Publish sends ev to every subscriber that has room.
func (h *Hub) Publish(ev alarm.DeliveryEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The channel is closed by unsubscribe or Close.
// Subscribing to a closed hub returns an already closed channel.
func (h *Hub) Subscribe(buffer int) (<-chan alarm.DeliveryEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	ch := make(chan alarm.DeliveryEvent, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.seq++
	id := h.seq
	h.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes every subscriber channel. Later publishes go nowhere.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
