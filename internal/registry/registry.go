package registry

import (
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// Registry maps logical alarm ids to their active schedule.
// It never talks to a backend: callers cancel superseded delivery ids themselves.
type Registry struct {
	// entries holds the active schedule per logical id.
	entries map[string]*alarm.ScheduledAlarm
	// order keeps logical ids in insertion order for display.
	order []string
	// mu guards entries and order; status readers run on other goroutines.
	mu sync.RWMutex
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*alarm.ScheduledAlarm),
	}
}

// Put stores entry, replacing any entry with the same logical id.
// A replaced entry keeps its position in the display order.
func (r *Registry) Put(entry *alarm.ScheduledAlarm) {
	if entry == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[entry.LogicalID]; !ok {
		r.order = append(r.order, entry.LogicalID)
	}

	r.entries[entry.LogicalID] = entry.Clone()
}

// RemoveByLogicalID drops the entry for id and returns it, if any.
func (r *Registry) RemoveByLogicalID(id string) (*alarm.ScheduledAlarm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}

	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })

	return entry, true
}

// FindByLogicalID returns a copy of the entry for id.
func (r *Registry) FindByLogicalID(id string) (*alarm.ScheduledAlarm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}

	return entry.Clone(), true
}

// FindByDeliveryID returns a copy of the entry currently holding deliveryID.
func (r *Registry) FindByDeliveryID(deliveryID string) (*alarm.ScheduledAlarm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.DeliveryID == deliveryID {
			return entry.Clone(), true
		}
	}

	return nil, false
}

// MarkDelivered records delivery of deliveryID at at.
// It reports false when no entry holds that delivery id.
func (r *Registry) MarkDelivered(deliveryID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.DeliveryID != deliveryID {
			continue
		}

		entry.Phase = alarm.PhaseDelivered
		entry.DeliveredAt = at

		return true
	}

	return false
}

// ListActive returns copies of every entry in insertion order.
func (r *Registry) ListActive() []*alarm.ScheduledAlarm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*alarm.ScheduledAlarm, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.entries[id].Clone())
	}

	return result
}

// Len returns the number of active entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.entries)
	r.order = nil
}

// ReapExpired removes delivered one-shot entries whose fire time is at or
// before cutoff and returns them. Repeating and undelivered entries stay.
func (r *Registry) ReapExpired(cutoff time.Time) []*alarm.ScheduledAlarm {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []*alarm.ScheduledAlarm

	r.order = slices.DeleteFunc(r.order, func(id string) bool {
		entry := r.entries[id]
		if entry.RepeatDaily || entry.Phase != alarm.PhaseDelivered || entry.FireAt.After(cutoff) {
			return false
		}

		reaped = append(reaped, entry)
		delete(r.entries, id)

		return true
	})

	return reaped
}
