package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func roomRows(id int64, kind models.RoomKind) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "kind", "name", "last_seq", "created_at"}).
		AddRow(id, string(kind), "", 0, time.Now())
}

func TestGetOrCreateDirectRoomNormalizesPair(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoomRepo(db)

	// Called as (2, 1); the lookup must see the ordered pair (1, 2).
	mock.ExpectQuery("SELECT r.id, r.kind").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(roomRows(7, models.RoomDirect))

	room, err := repo.GetOrCreateDirectRoom(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), room.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateDirectRoomCreatesOnFirstUse(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoomRepo(db)

	mock.ExpectQuery("SELECT r.id, r.kind").
		WithArgs(int64(1), int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO rooms").
		WillReturnRows(roomRows(7, models.RoomDirect))
	mock.ExpectExec("INSERT INTO direct_pairs").
		WithArgs(int64(1), int64(2), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO room_members").
		WithArgs(int64(7), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO room_members").
		WithArgs(int64(7), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	room, err := repo.GetOrCreateDirectRoom(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), room.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateDirectRoomLostRaceReturnsWinner(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoomRepo(db)

	mock.ExpectQuery("SELECT r.id, r.kind").
		WithArgs(int64(1), int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO rooms").
		WillReturnRows(roomRows(7, models.RoomDirect))
	// ON CONFLICT DO NOTHING claimed no row: the pair already exists.
	mock.ExpectExec("INSERT INTO direct_pairs").
		WithArgs(int64(1), int64(2), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT r.id, r.kind").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(roomRows(9, models.RoomDirect))

	room, err := repo.GetOrCreateDirectRoom(context.Background(), 1, 2)
	require.NoError(t, err)
	// The losing side's provisional room is discarded; both callers see
	// the winner's room.
	assert.Equal(t, int64(9), room.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateDirectRoomRejectsSelf(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewRoomRepo(db)

	_, err := repo.GetOrCreateDirectRoom(context.Background(), 4, 4)
	require.ErrorIs(t, err, ErrSelfRoom)
}

func TestRemoveMemberRejectsLastAdmin(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoomRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM room_members").
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.RemoveMember(context.Background(), 5, 1)
	require.ErrorIs(t, err, ErrLastAdmin)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveMemberUnknownMember(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoomRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM room_members").
		WithArgs(int64(5), int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.RemoveMember(context.Background(), 5, 9)
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestRoleMissingMember(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRoomRepo(db)

	mock.ExpectQuery("SELECT role FROM room_members").
		WithArgs(int64(5), int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Role(context.Background(), 5, 9)
	require.ErrorIs(t, err, ErrMemberNotFound)
}
