package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

type member struct {
	UserID   uuid.UUID
	JoinedAt time.Time
}

// audienceCache memoizes chat members and friend sets. Invalidation bumps a generation
// so a load that raced with it is not stored.
type audienceCache struct {
	mu         sync.Mutex
	maxEntries int

	members   map[uuid.UUID][]member
	memberGen uint64

	friends   map[uuid.UUID][]uuid.UUID
	friendGen uint64
}

func newAudienceCache(maxEntries int) *audienceCache {
	return &audienceCache{
		maxEntries: maxEntries,
		members:    make(map[uuid.UUID][]member),
		friends:    make(map[uuid.UUID][]uuid.UUID),
	}
}

func (c *audienceCache) chatMembers(ctx context.Context, chatID uuid.UUID, load func(context.Context, uuid.UUID) ([]models.ChatParticipant, error)) ([]member, error) {
	c.mu.Lock()
	if m, ok := c.members[chatID]; ok {
		c.mu.Unlock()
		return m, nil
	}
	gen := c.memberGen
	c.mu.Unlock()

	rows, err := load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m := make([]member, len(rows))
	for i, p := range rows {
		m[i] = member{UserID: p.UserID, JoinedAt: p.JoinedAt}
	}

	c.mu.Lock()
	if gen == c.memberGen {
		if len(c.members) >= c.maxEntries {
			c.members = make(map[uuid.UUID][]member)
		}
		c.members[chatID] = m
	}
	c.mu.Unlock()
	return m, nil
}

func (c *audienceCache) friendIDs(ctx context.Context, userID uuid.UUID, load func(context.Context, uuid.UUID) ([]uuid.UUID, error)) ([]uuid.UUID, error) {
	c.mu.Lock()
	if ids, ok := c.friends[userID]; ok {
		c.mu.Unlock()
		return ids, nil
	}
	gen := c.friendGen
	c.mu.Unlock()

	ids, err := load(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if gen == c.friendGen {
		if len(c.friends) >= c.maxEntries {
			c.friends = make(map[uuid.UUID][]uuid.UUID)
		}
		c.friends[userID] = ids
	}
	c.mu.Unlock()
	return ids, nil
}

func (c *audienceCache) invalidateChat(chatID uuid.UUID) {
	c.mu.Lock()
	c.memberGen++
	delete(c.members, chatID)
	c.mu.Unlock()
}

func (c *audienceCache) invalidateFriends(userIDs ...uuid.UUID) {
	c.mu.Lock()
	c.friendGen++
	for _, id := range userIDs {
		delete(c.friends, id)
	}
	c.mu.Unlock()
}
