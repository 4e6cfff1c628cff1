package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrDeliveryNotAdvanced signals that the conditional status update
	// matched no row: either the record is missing or the new status does
	// not rank above the stored one. The delivery tracker disambiguates.
	ErrDeliveryNotAdvanced = errors.New("delivery status not advanced")
)

// MessageRepository is the durable-store interface for messages and their
// per-recipient delivery records.
type MessageRepository interface {
	// PersistMessageWithDeliveries assigns the room's next seq and writes the
	// message plus one 'sent' delivery row per recipient in one transaction.
	PersistMessageWithDeliveries(ctx context.Context, roomID, senderID int64, body string, recipientIDs []int64) (models.Message, error)
	// UpdateDeliveryStatus advances a record iff the new status ranks higher.
	UpdateDeliveryStatus(ctx context.Context, roomID, seq, recipientID int64, to models.DeliveryStatus) (models.DeliveryRecord, error)
	GetDelivery(ctx context.Context, roomID, seq, recipientID int64) (models.DeliveryRecord, error)
	// ListBacklogSince returns the user's room messages after sinceSeq joined
	// with that user's delivery status; used for backlog fetch on reconnect.
	ListBacklogSince(ctx context.Context, roomID, userID, sinceSeq int64) ([]models.BacklogEntry, error)
}

// MessageRepo is a sqlx-backed implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// PersistMessageWithDeliveries bumps the room counter under its row lock,
// making seq assignment gap-free even across processes, then writes the
// message and delivery rows atomically. Nothing is visible on failure.
func (r *MessageRepo) PersistMessageWithDeliveries(ctx context.Context, roomID, senderID int64, body string, recipientIDs []int64) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int64
	err = tx.GetContext(ctx, &seq,
		`UPDATE rooms SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRoomNotFound
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (room_id, seq, sender_id, body) VALUES ($1, $2, $3, $4)
         RETURNING room_id, seq, sender_id, body, created_at`,
		roomID, seq, senderID, body).StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	for _, recipientID := range recipientIDs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO message_deliveries (room_id, seq, recipient_id, status, updated_at)
             VALUES ($1, $2, $3, 'sent', $4)`,
			roomID, seq, recipientID, msg.CreatedAt); err != nil {
			return models.Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

const statusRankSQL = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

// UpdateDeliveryStatus performs the monotonic transition in a single
// conditional update so concurrent acks cannot regress a record.
func (r *MessageRepo) UpdateDeliveryStatus(ctx context.Context, roomID, seq, recipientID int64, to models.DeliveryStatus) (models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	err := r.db.QueryRowxContext(ctx,
		`UPDATE message_deliveries SET status=$4, updated_at=NOW()
         WHERE room_id=$1 AND seq=$2 AND recipient_id=$3 AND `+statusRankSQL+` < $5
         RETURNING room_id, seq, recipient_id, status, updated_at`,
		roomID, seq, recipientID, to, to.Rank()).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeliveryRecord{}, ErrDeliveryNotAdvanced
	}
	return rec, err
}

// GetDelivery fetches a single delivery record.
func (r *MessageRepo) GetDelivery(ctx context.Context, roomID, seq, recipientID int64) (models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT room_id, seq, recipient_id, status, updated_at FROM message_deliveries
         WHERE room_id=$1 AND seq=$2 AND recipient_id=$3`, roomID, seq, recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeliveryRecord{}, ErrMessageNotFound
	}
	return rec, err
}

// ListBacklogSince returns messages after sinceSeq in seq order. Messages the
// user sent carry no delivery record and report status 'sent' in the join.
func (r *MessageRepo) ListBacklogSince(ctx context.Context, roomID, userID, sinceSeq int64) ([]models.BacklogEntry, error) {
	var entries []models.BacklogEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT m.room_id, m.seq, m.sender_id, m.body, m.created_at,
                COALESCE(d.status, 'sent') AS status
         FROM messages m
         LEFT JOIN message_deliveries d
           ON d.room_id = m.room_id AND d.seq = m.seq AND d.recipient_id = $2
         WHERE m.room_id=$1 AND m.seq > $3
         ORDER BY m.seq ASC`, roomID, userID, sinceSeq)
	return entries, err
}
