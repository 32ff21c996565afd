package status

import (
	"context"
	"errors"
	"time"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/registry"
)

// Source exposes the scheduler flags a snapshot reports.
type Source interface {
	Initialized() bool
	HasPermission() bool
	LastError() error
}

// Backend is a delivery backend that may report its pending delivery ids.
type Backend interface {
	Kind() alarm.BackendKind
	QueryPending(ctx context.Context) ([]string, error)
}

// BackendStatus is what one backend reported during a snapshot.
type BackendStatus struct {
	// Pending is the number of armed deliveries, valid when Known is set.
	Pending int
	// Known is false when the backend cannot introspect or failed to answer.
	Known bool
	// Err is the query failure, if any. Unsupported is not a failure.
	Err error
}

// Snapshot is the UI-facing state at one instant.
type Snapshot struct {
	At            time.Time
	Initialized   bool
	HasPermission bool
	// Active are deep copies of the registry entries in insertion order.
	Active []*alarm.ScheduledAlarm
	// Backends reports pending deliveries per backend.
	Backends map[alarm.BackendKind]BackendStatus
	// LastError is the last user-visible failure, or nil.
	LastError error
}

// PendingCount is the number of active registry entries still waiting to fire.
func (s *Snapshot) PendingCount() int {
	count := 0

	for _, entry := range s.Active {
		if entry.Phase == alarm.PhaseScheduled || entry.RepeatDaily {
			count++
		}
	}

	return count
}

// Next returns the active entry that fires soonest after the snapshot instant.
func (s *Snapshot) Next() (*alarm.ScheduledAlarm, bool) {
	var next *alarm.ScheduledAlarm

	for _, entry := range s.Active {
		if !entry.FireAt.After(s.At) {
			continue
		}

		if next == nil || entry.FireAt.Before(next.FireAt) {
			next = entry
		}
	}

	return next, next != nil
}

// Projector derives snapshots from the registry, the scheduler and the backends.
type Projector struct {
	registry *registry.Registry
	source   Source
	backends []Backend
	now      func() time.Time
}

// NewProjector wires a projector. Nil backends are skipped.
func NewProjector(reg *registry.Registry, source Source, backends ...Backend) *Projector {
	p := &Projector{
		registry: reg,
		source:   source,
		now:      time.Now,
	}

	for _, b := range backends {
		if b != nil {
			p.backends = append(p.backends, b)
		}
	}

	return p
}

// Snapshot reads the current state. Backend query failures are reported in
// the snapshot, never returned.
func (p *Projector) Snapshot(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		At:            p.now(),
		Initialized:   p.source.Initialized(),
		HasPermission: p.source.HasPermission(),
		Active:        p.registry.ListActive(),
		Backends:      make(map[alarm.BackendKind]BackendStatus, len(p.backends)),
		LastError:     p.source.LastError(),
	}

	for _, b := range p.backends {
		ids, err := b.QueryPending(ctx)

		switch {
		case err == nil:
			snap.Backends[b.Kind()] = BackendStatus{Pending: len(ids), Known: true}
		case errors.Is(err, alarm.ErrUnsupported):
			snap.Backends[b.Kind()] = BackendStatus{}
		default:
			snap.Backends[b.Kind()] = BackendStatus{Err: err}
		}
	}

	return snap
}

// Log writes a one-line summary of snap.
func Log(ctx context.Context, snap *Snapshot) {
	kvs := []any{
		"initialized", snap.Initialized,
		"permission", snap.HasPermission,
		"active", len(snap.Active),
		"pending", snap.PendingCount(),
	}

	if next, ok := snap.Next(); ok {
		kvs = append(kvs,
			"next_logical_id", next.LogicalID,
			"next_in", next.FireAt.Sub(snap.At).Round(time.Second).String(),
		)
	}

	for kind, st := range snap.Backends {
		if st.Known {
			kvs = append(kvs, kind.String()+"_pending", st.Pending)
		}
	}

	if snap.LastError != nil {
		kvs = append(kvs, "last_error", snap.LastError.Error())
	}

	logger.DebugKV(ctx, "Alarm status", kvs...)
}
