package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chat-realtime/internal/models"
)

// offlineRetention keeps last_seen of offline users readable after their TTL lapsed.
const offlineRetention = 24 * time.Hour

// RedisMirror stores presence records under <prefix>:presence:<user_id>.
type RedisMirror struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisMirror builds a mirror. ttl should match the tracker TTL so a crashed node's
// online users fade out on their own.
func NewRedisMirror(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) key(userID uuid.UUID) string {
	if m.prefix == "" {
		return "presence:" + userID.String()
	}
	return m.prefix + ":presence:" + userID.String()
}

// Store writes rec with an expiry.
func (m *RedisMirror) Store(ctx context.Context, rec models.PresenceRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := m.ttl
	if rec.Status == models.PresenceOffline {
		ttl = offlineRetention
	}
	if err := m.client.Set(ctx, m.key(rec.UserID), body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set presence: %w", err)
	}
	return nil
}

// Fetch reads the records of userIDs in one round trip. Missing keys are omitted.
func (m *RedisMirror) Fetch(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceRecord, error) {
	out := make(map[uuid.UUID]models.PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = m.key(id)
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget presence: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out[rec.UserID] = rec
	}
	return out, nil
}

// Ping checks the connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
