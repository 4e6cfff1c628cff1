package models

import "time"

// DeliveryStatus is the per-recipient lifecycle of a message.
// It is monotonic: sent -> delivered -> read, never backwards.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders statuses for the monotonicity guard. Unknown statuses rank
// below sent so they can never advance a record.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s DeliveryStatus) Valid() bool {
	return s.Rank() > 0
}

// DeliveryRecord tracks one recipient's status for one message. A record
// exists for every recipient-at-send-time, created atomically with the
// message itself.
type DeliveryRecord struct {
	RoomID      int64          `db:"room_id" json:"room_id"`
	Seq         int64          `db:"seq" json:"message_id"`
	RecipientID int64          `db:"recipient_id" json:"recipient_id"`
	Status      DeliveryStatus `db:"status" json:"status"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}
