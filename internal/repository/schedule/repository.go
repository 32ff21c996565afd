package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	api "github.com/oshokin/alarm-keeper/internal/api/grpc/alarmd"
	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// Repository persists the daemon's armed alarms.
type Repository interface {
	// Load returns ErrNotFound when nothing was saved yet.
	Load(ctx context.Context) ([]alarm.Armed, error)
	// Save replaces the stored table with alarms.
	Save(ctx context.Context, alarms []alarm.Armed) error
}

// ErrNotFound is returned when nothing was saved yet.
var ErrNotFound = errors.New("schedule not found")

// documentVersion is the layout version of the stored document.
const documentVersion = 1

// record is one stored armed alarm.
type record struct {
	DeliveryID string    `json:"delivery_id"`
	ArmedAt    time.Time `json:"armed_at"`
	Spec       *api.Spec `json:"spec"`
}

// document is the whole stored table.
type document struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Alarms  []*record `json:"alarms"`
}

func toRecord(a *alarm.Armed) *record {
	return &record{
		DeliveryID: a.DeliveryID,
		ArmedAt:    a.ArmedAt.UTC(),
		Spec:       api.SpecFromDomain(&a.Spec),
	}
}

func (r *record) toDomain() (alarm.Armed, error) {
	if r == nil || r.DeliveryID == "" || r.Spec == nil {
		return alarm.Armed{}, errors.New("incomplete alarm record")
	}

	return alarm.Armed{
		DeliveryID: r.DeliveryID,
		ArmedAt:    r.ArmedAt,
		Spec:       r.Spec.ToDomain(),
	}, nil
}

func encodeRecord(a *alarm.Armed) ([]byte, error) {
	data, err := json.Marshal(toRecord(a))
	if err != nil {
		return nil, fmt.Errorf("encode alarm %s: %w", a.DeliveryID, err)
	}

	return data, nil
}

func decodeRecord(data []byte) (alarm.Armed, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return alarm.Armed{}, fmt.Errorf("decode alarm: %w", err)
	}

	return r.toDomain()
}
