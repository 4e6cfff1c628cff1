package delivery

import (
	"context"
	"errors"
	"fmt"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// ErrInvalidTransition rejects a delivery-status change that would regress
// the record (e.g. read -> delivered).
var ErrInvalidTransition = errors.New("delivery status cannot regress")

// Store is the slice of the durable store the tracker needs.
type Store interface {
	UpdateDeliveryStatus(ctx context.Context, roomID, seq, recipientID int64, to models.DeliveryStatus) (models.DeliveryRecord, error)
	GetDelivery(ctx context.Context, roomID, seq, recipientID int64) (models.DeliveryRecord, error)
}

// Tracker guards DeliveryRecord transitions: status only moves forward along
// sent -> delivered -> read. Skipping a state is fine (a read message was
// necessarily delivered); repeating the current state is a no-op.
type Tracker struct {
	store Store
}

// NewTracker constructs a Tracker.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Transition advances the recipient's record to the given status and persists
// the change with a fresh timestamp.
func (t *Tracker) Transition(ctx context.Context, roomID, seq, recipientID int64, to models.DeliveryStatus) (models.DeliveryRecord, error) {
	if !to.Valid() {
		return models.DeliveryRecord{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	rec, err := t.store.UpdateDeliveryStatus(ctx, roomID, seq, recipientID, to)
	if err == nil {
		observability.IncDeliveryTransition(string(to))
		return rec, nil
	}
	if !errors.Is(err, repositories.ErrDeliveryNotAdvanced) {
		return models.DeliveryRecord{}, err
	}

	// The conditional update matched nothing: missing record, repeat, or regress.
	current, err := t.store.GetDelivery(ctx, roomID, seq, recipientID)
	if err != nil {
		return models.DeliveryRecord{}, err
	}
	if current.Status == to {
		return current, nil
	}
	return models.DeliveryRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}
