package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"messaging-service/internal/delivery"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

var (
	// ErrNotAMember rejects a submission from outside the room.
	ErrNotAMember = errors.New("sender is not a room member")
	// ErrPersistence wraps durable-store failures. A failed submission
	// persists nothing and broadcasts nothing; the client retries whole.
	ErrPersistence = errors.New("persistence failure")
)

// Sender is the registry surface the router fans out through.
type Sender interface {
	Send(userID int64, payload []byte) bool
	IsOnline(userID int64) bool
}

// Router is the central dispatcher: it validates sender membership, persists
// messages atomically with their delivery records, fans them out to online
// members, and applies acknowledgment transitions.
type Router struct {
	rooms     repositories.RoomRepository
	messages  repositories.MessageRepository
	tracker   *delivery.Tracker
	registry  Sender
	publisher rabbitmq.Publisher

	mu        sync.Mutex
	roomLocks map[int64]*roomLock
}

// roomLock serializes submissions for one room. refs counts the holder plus
// waiters so the entry can be dropped once the room goes idle.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

// New constructs a Router.
func New(rooms repositories.RoomRepository, messages repositories.MessageRepository, tracker *delivery.Tracker, registry Sender, publisher rabbitmq.Publisher) *Router {
	return &Router{
		rooms:     rooms,
		messages:  messages,
		tracker:   tracker,
		registry:  registry,
		publisher: publisher,
		roomLocks: make(map[int64]*roomLock),
	}
}

// lockRoom acquires the room's serialization lock, creating it lazily.
// Seq assignment is single-writer per room; cross-room traffic is parallel.
// The map only holds locks for rooms with in-flight submissions.
func (r *Router) lockRoom(roomID int64) *roomLock {
	r.mu.Lock()
	l, ok := r.roomLocks[roomID]
	if !ok {
		l = &roomLock{}
		r.roomLocks[roomID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Router) unlockRoom(roomID int64, l *roomLock) {
	l.mu.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.roomLocks, roomID)
	}
	r.mu.Unlock()
}

// Submit routes one message: membership check, atomic persist of message plus
// per-recipient 'sent' records, then fan-out to online members. Recipients
// whose push is accepted move to 'delivered'. Offline members fetch the
// backlog on reconnect; the router does not re-deliver.
func (r *Router) Submit(ctx context.Context, senderID, roomID int64, body string) (models.Message, error) {
	ctx, span := otel.Tracer("messaging-service/router").Start(ctx, "router.submit")
	defer span.End()
	span.SetAttributes(attribute.Int64("room.id", roomID))

	member, err := r.rooms.IsMember(ctx, roomID, senderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: membership check: %v", ErrPersistence, err)
	}
	if !member {
		return models.Message{}, ErrNotAMember
	}

	lock := r.lockRoom(roomID)
	defer r.unlockRoom(roomID, lock)

	members, err := r.rooms.Members(ctx, roomID)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: load members: %v", ErrPersistence, err)
	}
	recipients := make([]int64, 0, len(members))
	for _, m := range members {
		if m.UserID != senderID {
			recipients = append(recipients, m.UserID)
		}
	}

	msg, err := r.messages.PersistMessageWithDeliveries(ctx, roomID, senderID, body, recipients)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: persist message: %v", ErrPersistence, err)
	}
	observability.IncMessageRouted()

	payload, _ := json.Marshal(models.NewMessageOut(msg))
	for _, recipientID := range recipients {
		if !r.registry.Send(recipientID, payload) {
			continue
		}
		rec, err := r.tracker.Transition(ctx, roomID, msg.Seq, recipientID, models.StatusDelivered)
		if err != nil {
			log.Warn().Err(err).Int64("room_id", roomID).Int64("seq", msg.Seq).
				Int64("recipient_id", recipientID).Msg("delivered transition failed")
			continue
		}
		statusPayload, _ := json.Marshal(models.NewDeliveryStatusOut(rec))
		r.registry.Send(senderID, statusPayload)
	}

	if r.publisher != nil {
		_ = r.publisher.Publish(ctx, "messages.routed", models.NewMessageOut(msg))
	}
	return msg, nil
}

// Typing relays a typing indicator to the room's other online members.
// Indicators are ephemeral: nothing is persisted and failed pushes are not
// retried. The transport clears lingering indicators on disconnect.
func (r *Router) Typing(ctx context.Context, userID, roomID int64, isTyping bool) error {
	member, err := r.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("%w: membership check: %v", ErrPersistence, err)
	}
	if !member {
		return ErrNotAMember
	}

	members, err := r.rooms.Members(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Int64("room_id", roomID).Msg("load members for typing relay failed")
		return nil
	}

	payload, _ := json.Marshal(models.NewTypingOut(roomID, userID, isTyping))
	for _, m := range members {
		if m.UserID != userID {
			r.registry.Send(m.UserID, payload)
		}
	}
	return nil
}

// Acknowledge advances the caller's own delivery record for one message and
// pushes the transition to the room's online members. Skipping 'delivered'
// is accepted; regressions fail with delivery.ErrInvalidTransition.
func (r *Router) Acknowledge(ctx context.Context, userID, roomID, seq int64, to models.DeliveryStatus) (models.DeliveryRecord, error) {
	if to != models.StatusDelivered && to != models.StatusRead {
		return models.DeliveryRecord{}, fmt.Errorf("%w: %q is not an acknowledgment", delivery.ErrInvalidTransition, to)
	}

	rec, err := r.tracker.Transition(ctx, roomID, seq, userID, to)
	if err != nil {
		return models.DeliveryRecord{}, err
	}

	payload, _ := json.Marshal(models.NewDeliveryStatusOut(rec))
	members, err := r.rooms.Members(ctx, roomID)
	if err != nil {
		// The transition is durable; the live notification is best-effort.
		log.Warn().Err(err).Int64("room_id", roomID).Msg("load members for ack broadcast failed")
		return rec, nil
	}
	for _, m := range members {
		if m.UserID != userID {
			r.registry.Send(m.UserID, payload)
		}
	}
	return rec, nil
}
