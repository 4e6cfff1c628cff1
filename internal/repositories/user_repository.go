package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads user identity rows owned by the account service and
// mirrors last-seen timestamps on offline transitions.
type UserRepository interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
	Exists(ctx context.Context, userID int64) (bool, error)
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, last_seen_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// Exists checks whether a user row is present.
func (r *UserRepo) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID)
	return exists, err
}

// TouchLastSeen records the user's last offline transition.
func (r *UserRepo) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at=$2 WHERE id=$1`, userID, at)
	return err
}
