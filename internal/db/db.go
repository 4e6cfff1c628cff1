package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGINT PRIMARY KEY,
            username TEXT NOT NULL,
            last_seen_at TIMESTAMPTZ
        );`,
		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
            name TEXT NOT NULL DEFAULT '',
            last_seq BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS direct_pairs (
            user_low BIGINT NOT NULL,
            user_high BIGINT NOT NULL,
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            PRIMARY KEY (user_low, user_high)
        );`,
		`CREATE TABLE IF NOT EXISTS room_members (
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            seq BIGINT NOT NULL,
            sender_id BIGINT NOT NULL,
            body TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_id, seq)
        );`,
		`CREATE TABLE IF NOT EXISTS message_deliveries (
            room_id BIGINT NOT NULL,
            seq BIGINT NOT NULL,
            recipient_id BIGINT NOT NULL,
            status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (room_id, seq, recipient_id),
            FOREIGN KEY (room_id, seq) REFERENCES messages(room_id, seq) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON message_deliveries(recipient_id, room_id, seq);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info().Msg("database migrations applied")
	return nil
}
