package models

import "time"

// RoomKind distinguishes direct 1:1 rooms from named group rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// Role is a member's role inside a room. Group rooms keep at least one admin.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Room is a conversation scope with a fixed member list.
// LastSeq is the per-room message counter; it only ever moves forward.
type Room struct {
	ID        int64     `db:"id" json:"id"`
	Kind      RoomKind  `db:"kind" json:"kind"`
	Name      string    `db:"name" json:"name,omitempty"`
	LastSeq   int64     `db:"last_seq" json:"last_seq"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Member is a (room, user) pair with a role.
type Member struct {
	RoomID   int64     `db:"room_id" json:"room_id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Role     Role      `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// User carries display identity and the persisted last-seen timestamp.
// Live presence is owned by the connection registry, not this row.
type User struct {
	ID         int64      `db:"id" json:"id"`
	Username   string     `db:"username" json:"username"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
}
