package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"chat-realtime/internal/config"
)

// Connect opens the event store database, tunes the pool and runs migrations.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if IsSQLite(db) {
		// A single connection keeps an in-memory database alive and serializes writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if log != nil {
		log.Info("database migrations applied", zap.String("driver", cfg.Driver))
	}
	return db, nil
}

// IsPostgres reports whether db talks to PostgreSQL.
func IsPostgres(db *sqlx.DB) bool {
	return db.DriverName() == "postgres"
}

// IsSQLite reports whether db talks to SQLite.
func IsSQLite(db *sqlx.DB) bool {
	return db.DriverName() == "sqlite3"
}

// Ping checks connectivity with a short timeout.
func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
            id {{uuid}} PRIMARY KEY,
            kind TEXT NOT NULL,
            name TEXT,
            created_by {{uuid}} NOT NULL,
            created_at {{ts}} NOT NULL,
            last_message_at {{ts}} NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS direct_chats (
            pair_key TEXT PRIMARY KEY,
            chat_id {{uuid}} NOT NULL REFERENCES chats(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
            chat_id {{uuid}} NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id {{uuid}} NOT NULL,
            role TEXT NOT NULL,
            joined_at {{ts}} NOT NULL,
            last_read_at {{ts}},
            last_read_message_id {{uuid}},
            PRIMARY KEY (chat_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS ix_chat_participants_user ON chat_participants (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id {{uuid}} PRIMARY KEY,
            chat_id {{uuid}} NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id {{uuid}} NOT NULL,
            content TEXT NOT NULL,
            kind TEXT NOT NULL,
            reply_to {{uuid}},
            created_at {{ts}} NOT NULL,
            edited_at {{ts}},
            deleted_at {{ts}}
        );`,
	`CREATE INDEX IF NOT EXISTS ix_messages_chat_created ON messages (chat_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS message_idempotency (
            chat_id {{uuid}} NOT NULL,
            sender_id {{uuid}} NOT NULL,
            idem_key TEXT NOT NULL,
            message_id {{uuid}} NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            created_at {{ts}} NOT NULL,
            PRIMARY KEY (chat_id, sender_id, idem_key)
        );`,
	`CREATE TABLE IF NOT EXISTS friend_requests (
            id {{uuid}} PRIMARY KEY,
            sender_id {{uuid}} NOT NULL,
            receiver_id {{uuid}} NOT NULL,
            pair_key TEXT NOT NULL,
            status TEXT NOT NULL,
            message TEXT,
            created_at {{ts}} NOT NULL,
            updated_at {{ts}} NOT NULL
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_friend_requests_pending ON friend_requests (pair_key) WHERE status = 'pending';`,
	`CREATE INDEX IF NOT EXISTS ix_friend_requests_receiver ON friend_requests (receiver_id, status);`,
	`CREATE INDEX IF NOT EXISTS ix_friend_requests_sender ON friend_requests (sender_id, status);`,
	`CREATE TABLE IF NOT EXISTS friendships (
            user_id {{uuid}} NOT NULL,
            friend_id {{uuid}} NOT NULL,
            status TEXT NOT NULL,
            created_at {{ts}} NOT NULL,
            PRIMARY KEY (user_id, friend_id)
        );`,
	`CREATE INDEX IF NOT EXISTS ix_friendships_friend ON friendships (friend_id);`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	types := strings.NewReplacer("{{uuid}}", "UUID", "{{ts}}", "TIMESTAMPTZ")
	if IsSQLite(db) {
		types = strings.NewReplacer("{{uuid}}", "TEXT", "{{ts}}", "TIMESTAMP")
	}
	for _, m := range schema {
		if _, err := db.ExecContext(ctx, types.Replace(m)); err != nil {
			return err
		}
	}
	return nil
}
