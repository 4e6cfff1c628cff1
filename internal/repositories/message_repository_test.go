package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func TestPersistMessageAssignsRoomSeq(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	created := time.Now()

	mock.ExpectBegin()
	// Seq comes straight from the room counter bumped under its row lock.
	mock.ExpectQuery("UPDATE rooms SET last_seq").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(4))
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(int64(5), int64(4), int64(1), "hi").
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "seq", "sender_id", "body", "created_at"}).
			AddRow(5, 4, 1, "hi", created))
	mock.ExpectExec("INSERT INTO message_deliveries").
		WithArgs(int64(5), int64(4), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO message_deliveries").
		WithArgs(int64(5), int64(4), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.PersistMessageWithDeliveries(context.Background(), 5, 1, "hi", []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), msg.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistMessageUnknownRoom(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE rooms SET last_seq").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}))
	mock.ExpectRollback()

	_, err := repo.PersistMessageWithDeliveries(context.Background(), 99, 1, "hi", nil)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPersistMessageFailureRollsBackSeq(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE rooms SET last_seq").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(4))
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(int64(5), int64(4), int64(1), "hi").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.PersistMessageWithDeliveries(context.Background(), 5, 1, "hi", []int64{2})
	require.Error(t, err)
	// Nothing after the failed insert ran: no delivery rows, no commit, so
	// the counter bump is discarded with the transaction and seq stays
	// gap-free for the next writer.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeliveryStatusAdvances(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	updated := time.Now()

	mock.ExpectQuery("UPDATE message_deliveries SET status").
		WithArgs(int64(5), int64(3), int64(2), "delivered", 2).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "seq", "recipient_id", "status", "updated_at"}).
			AddRow(5, 3, 2, "delivered", updated))

	rec, err := repo.UpdateDeliveryStatus(context.Background(), 5, 3, 2, models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, rec.Status)
}

func TestUpdateDeliveryStatusNoRowNotAdvanced(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery("UPDATE message_deliveries SET status").
		WithArgs(int64(5), int64(3), int64(2), "delivered", 2).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "seq", "recipient_id", "status", "updated_at"}))

	_, err := repo.UpdateDeliveryStatus(context.Background(), 5, 3, 2, models.StatusDelivered)
	require.ErrorIs(t, err, ErrDeliveryNotAdvanced)
}

func TestListBacklogSinceJoinsStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	created := time.Now()

	mock.ExpectQuery("SELECT m.room_id, m.seq").
		WithArgs(int64(5), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "seq", "sender_id", "body", "created_at", "status"}).
			AddRow(5, 4, 1, "hi", created, "read").
			AddRow(5, 5, 2, "yo", created, "sent"))

	entries, err := repo.ListBacklogSince(context.Background(), 5, 2, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].Seq)
	assert.Equal(t, models.StatusRead, entries[0].Status)
	assert.Equal(t, models.StatusSent, entries[1].Status)
}
