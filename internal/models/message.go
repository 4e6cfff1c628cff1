package models

import "time"

// Message is a room message. Seq is the room-scoped message ID: strictly
// increasing and gap-free within a room, assigned inside the persist
// transaction.
type Message struct {
	RoomID    int64     `db:"room_id" json:"room_id"`
	Seq       int64     `db:"seq" json:"message_id"`
	SenderID  int64     `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BacklogEntry is a message joined with the fetching user's delivery status,
// returned by the reconnect backlog query.
type BacklogEntry struct {
	Message
	Status DeliveryStatus `db:"status" json:"status"`
}
