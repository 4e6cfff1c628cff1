package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

const broadcastTimeout = 5 * time.Second

// Rooms is the membership surface the broadcaster reads.
type Rooms interface {
	RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error)
	Members(ctx context.Context, roomID int64) ([]models.Member, error)
}

// Sender pushes presence frames to online users.
type Sender interface {
	Send(userID int64, payload []byte) bool
}

// Broadcaster reacts to registry presence transitions: it notifies the other
// members of every room the user belongs to, and records last-seen on
// offline. Everything here is best-effort; presence is re-derivable on the
// next reconnect, so failed pushes are not retried.
type Broadcaster struct {
	rooms     Rooms
	registry  Sender
	users     repositories.UserRepository
	lastSeen  *LastSeenStore
	publisher rabbitmq.Publisher
}

// NewBroadcaster constructs a Broadcaster. users, lastSeen, and publisher
// may be nil; the corresponding side effects are skipped.
func NewBroadcaster(rooms Rooms, registry Sender, users repositories.UserRepository, lastSeen *LastSeenStore, publisher rabbitmq.Publisher) *Broadcaster {
	return &Broadcaster{
		rooms:     rooms,
		registry:  registry,
		users:     users,
		lastSeen:  lastSeen,
		publisher: publisher,
	}
}

// UserOnline handles the user's first live connection.
func (b *Broadcaster) UserOnline(userID int64) {
	b.broadcast(userID, models.PresenceOnline, time.Now())
}

// UserOffline handles the user's last connection going away.
func (b *Broadcaster) UserOffline(userID int64, lastSeen time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	if b.lastSeen != nil {
		if err := b.lastSeen.Set(ctx, userID, lastSeen); err != nil {
			log.Debug().Err(err).Int64("user_id", userID).Msg("last-seen cache write failed")
		}
	}
	if b.users != nil {
		if err := b.users.TouchLastSeen(ctx, userID, lastSeen); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("last-seen persist failed")
		}
	}
	b.broadcast(userID, models.PresenceOffline, lastSeen)
}

func (b *Broadcaster) broadcast(userID int64, state models.PresenceState, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	event := models.PresenceOut{
		Type:      models.EventPresence,
		UserID:    userID,
		State:     state,
		Timestamp: at,
	}
	payload, _ := json.Marshal(event)

	rooms, err := b.rooms.RoomsForUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("presence broadcast: load rooms failed")
		return
	}

	notified := map[int64]struct{}{userID: {}}
	for _, room := range rooms {
		members, err := b.rooms.Members(ctx, room.ID)
		if err != nil {
			continue
		}
		for _, m := range members {
			if _, done := notified[m.UserID]; done {
				continue
			}
			notified[m.UserID] = struct{}{}
			b.registry.Send(m.UserID, payload)
		}
	}

	observability.IncPresenceEvent(string(state))
	if b.publisher != nil {
		_ = b.publisher.Publish(ctx, "presence."+string(state), event)
	}
}
