package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastSeenTTL = 30 * 24 * time.Hour

// LastSeenStore caches last-seen timestamps in Redis so presence lookups for
// offline users skip the database. Postgres stays authoritative.
type LastSeenStore struct {
	client *redis.Client
	prefix string
}

// NewLastSeenStore constructs a store over an existing Redis client.
func NewLastSeenStore(client *redis.Client) *LastSeenStore {
	return &LastSeenStore{client: client, prefix: "presence:last_seen:"}
}

func (s *LastSeenStore) key(userID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10)
}

// Set records the user's last-seen timestamp.
func (s *LastSeenStore) Set(ctx context.Context, userID int64, at time.Time) error {
	if err := s.client.Set(ctx, s.key(userID), at.UTC().Format(time.RFC3339Nano), lastSeenTTL).Err(); err != nil {
		return fmt.Errorf("last-seen set: %w", err)
	}
	return nil
}

// Get returns the cached last-seen timestamp; the zero time means no entry.
func (s *LastSeenStore) Get(ctx context.Context, userID int64) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last-seen get: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("last-seen parse: %w", err)
	}
	return at, nil
}
