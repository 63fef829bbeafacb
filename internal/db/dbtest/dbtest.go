// Package dbtest provides throwaway SQLite event stores for tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
)

// New returns a migrated in-memory database that is closed when the test ends.
func New(t testing.TB) *sqlx.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()),
	}
	conn, err := db.Connect(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
