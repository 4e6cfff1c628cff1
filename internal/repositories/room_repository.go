package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrSelfRoom       = errors.New("cannot create direct room with self")
	// ErrLastAdmin rejects removing or demoting a group room's only admin.
	ErrLastAdmin = errors.New("room must keep at least one admin")
)

// RoomRepository is the room membership index: it owns room records,
// membership rows with roles, and direct-room idempotency.
type RoomRepository interface {
	CreateGroupRoom(ctx context.Context, creatorID int64, name string, memberIDs []int64) (models.Room, error)
	GetOrCreateDirectRoom(ctx context.Context, userA, userB int64) (models.Room, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error)
	Members(ctx context.Context, roomID int64) ([]models.Member, error)
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	Role(ctx context.Context, roomID, userID int64) (models.Role, error)
	AddMember(ctx context.Context, roomID, userID int64, role models.Role) error
	RemoveMember(ctx context.Context, roomID, userID int64) error
	SetRole(ctx context.Context, roomID, userID int64, role models.Role) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, kind, name, last_seq, created_at`

// CreateGroupRoom creates a group room and its members atomically.
// The creator always joins as admin; duplicate member ids are collapsed.
func (r *RoomRepo) CreateGroupRoom(ctx context.Context, creatorID int64, name string, memberIDs []int64) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO rooms (kind, name) VALUES ('group', $1) RETURNING `+roomColumns, name).
		StructScan(&room); err != nil {
		return models.Room{}, err
	}

	memberSet := map[int64]struct{}{}
	for _, id := range memberIDs {
		if id != creatorID {
			memberSet[id] = struct{}{}
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'admin')`,
		room.ID, creatorID); err != nil {
		return models.Room{}, err
	}
	for id := range memberSet {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'member')`,
			room.ID, id); err != nil {
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetOrCreateDirectRoom returns the direct room for the unordered user pair,
// creating it on first use. The unique constraint on direct_pairs guarantees
// that concurrent calls from both sides settle on a single room.
func (r *RoomRepo) GetOrCreateDirectRoom(ctx context.Context, userA, userB int64) (models.Room, error) {
	if userA == userB {
		return models.Room{}, ErrSelfRoom
	}
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}

	if room, err := r.directRoomForPair(ctx, lo, hi); err == nil {
		return room, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}

	var room models.Room
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO rooms (kind) VALUES ('direct') RETURNING `+roomColumns).
		StructScan(&room); err != nil {
		tx.Rollback()
		return models.Room{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO direct_pairs (user_low, user_high, room_id) VALUES ($1, $2, $3)
         ON CONFLICT (user_low, user_high) DO NOTHING`, lo, hi, room.ID)
	if err != nil {
		tx.Rollback()
		return models.Room{}, err
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return models.Room{}, err
	}
	if claimed == 0 {
		// Lost the race: another caller registered the pair first.
		tx.Rollback()
		return r.directRoomForPair(ctx, lo, hi)
	}

	for _, id := range []int64{lo, hi} {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'member')`,
			room.ID, id); err != nil {
			tx.Rollback()
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (r *RoomRepo) directRoomForPair(ctx context.Context, lo, hi int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room,
		`SELECT r.id, r.kind, r.name, r.last_seq, r.created_at FROM rooms r
         INNER JOIN direct_pairs dp ON dp.room_id = r.id
         WHERE dp.user_low=$1 AND dp.user_high=$2`, lo, hi)
	return room, err
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// RoomsForUser returns all rooms the user belongs to.
func (r *RoomRepo) RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms,
		`SELECT r.id, r.kind, r.name, r.last_seq, r.created_at FROM rooms r
         INNER JOIN room_members rm ON rm.room_id = r.id
         WHERE rm.user_id=$1 ORDER BY r.created_at DESC`, userID)
	return rooms, err
}

// Members returns the room's membership with roles.
func (r *RoomRepo) Members(ctx context.Context, roomID int64) ([]models.Member, error) {
	var members []models.Member
	err := r.db.SelectContext(ctx, &members,
		`SELECT room_id, user_id, role, joined_at FROM room_members
         WHERE room_id=$1 ORDER BY joined_at ASC`, roomID)
	return members, err
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// Role returns the user's role in the room.
func (r *RoomRepo) Role(ctx context.Context, roomID, userID int64) (models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role,
		`SELECT role FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMemberNotFound
	}
	return role, err
}

// AddMember inserts a membership row. Re-adding an existing member is a no-op.
func (r *RoomRepo) AddMember(ctx context.Context, roomID, userID int64, role models.Role) error {
	if _, err := r.GetRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, $3)
         ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID, role)
	return err
}

// RemoveMember deletes a membership row. Removing a group room's last admin
// is rejected with ErrLastAdmin.
func (r *RoomRepo) RemoveMember(ctx context.Context, roomID, userID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var role models.Role
	err = tx.GetContext(ctx, &role,
		`SELECT role FROM room_members WHERE room_id=$1 AND user_id=$2 FOR UPDATE`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrMemberNotFound
		return err
	}
	if err != nil {
		return err
	}

	if role == models.RoleAdmin {
		var admins int
		if err = tx.GetContext(ctx, &admins,
			`SELECT COUNT(*) FROM room_members WHERE room_id=$1 AND role='admin'`, roomID); err != nil {
			return err
		}
		if admins <= 1 {
			err = ErrLastAdmin
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRole updates a member's role. Demoting the last admin is rejected.
func (r *RoomRepo) SetRole(ctx context.Context, roomID, userID int64, role models.Role) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current models.Role
	err = tx.GetContext(ctx, &current,
		`SELECT role FROM room_members WHERE room_id=$1 AND user_id=$2 FOR UPDATE`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrMemberNotFound
		return err
	}
	if err != nil {
		return err
	}

	if current == models.RoleAdmin && role != models.RoleAdmin {
		var admins int
		if err = tx.GetContext(ctx, &admins,
			`SELECT COUNT(*) FROM room_members WHERE room_id=$1 AND role='admin'`, roomID); err != nil {
			return err
		}
		if admins <= 1 {
			err = ErrLastAdmin
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE room_members SET role=$3 WHERE room_id=$1 AND user_id=$2`, roomID, userID, role); err != nil {
		return err
	}
	return tx.Commit()
}
