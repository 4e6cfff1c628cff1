package models

import "time"

// PresenceState is derived from the connection registry: a user is online
// iff they hold at least one live connection.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// Presence is a point-in-time presence snapshot for a user. LastSeen is only
// set for offline users with a known last offline transition.
type Presence struct {
	UserID   int64         `json:"user_id"`
	State    PresenceState `json:"state"`
	LastSeen *time.Time    `json:"last_seen,omitempty"`
}
