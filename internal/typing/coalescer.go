// Package typing coalesces keystroke notifications into start and stop events per (user, chat).
package typing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Publisher receives typing changes. It must not block.
type Publisher interface {
	Publish(ev models.Event)
}

// Key identifies one typing state.
type Key struct {
	UserID uuid.UUID
	ChatID uuid.UUID
}

type state struct {
	timer clock.Timer
	gen   uint64
}

// Coalescer owns the live typing states. At most one timer is armed per key.
type Coalescer struct {
	mu     sync.Mutex
	states map[Key]*state
	byUser map[uuid.UUID]map[uuid.UUID]struct{}
	gen    uint64

	ttl   time.Duration
	clock clock.Clock
	pub   Publisher
	log   *zap.Logger
}

// NewCoalescer builds a Coalescer whose states expire ttl after the last keystroke.
func NewCoalescer(ttl time.Duration, clk clock.Clock, pub Publisher, log *zap.Logger) *Coalescer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coalescer{
		states: make(map[Key]*state),
		byUser: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		ttl:    ttl,
		clock:  clk,
		pub:    pub,
		log:    log,
	}
}

// Start records a keystroke. The first one in a burst publishes is_typing=true; later ones
// only push the expiry back.
func (c *Coalescer) Start(userID, chatID uuid.UUID) {
	key := Key{UserID: userID, ChatID: chatID}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	gen := c.gen
	if s, ok := c.states[key]; ok {
		s.timer.Stop()
		s.gen = gen
		s.timer = c.clock.AfterFunc(c.ttl, func() { c.expire(key, gen) })
		return
	}

	c.states[key] = &state{gen: gen, timer: c.clock.AfterFunc(c.ttl, func() { c.expire(key, gen) })}
	chats, ok := c.byUser[userID]
	if !ok {
		chats = make(map[uuid.UUID]struct{})
		c.byUser[userID] = chats
	}
	chats[chatID] = struct{}{}
	c.publishLocked(key, true)
}

// Stop clears the key immediately. It reports whether the user was typing.
func (c *Coalescer) Stop(userID, chatID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearLocked(Key{UserID: userID, ChatID: chatID})
}

// ExpireUser clears every key owned by userID. Sessions call it on disconnect.
func (c *Coalescer) ExpireUser(userID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for chatID := range c.byUser[userID] {
		if c.clearLocked(Key{UserID: userID, ChatID: chatID}) {
			n++
		}
	}
	return n
}

// Typing reports whether the key is live.
func (c *Coalescer) Typing(userID, chatID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[Key{UserID: userID, ChatID: chatID}]
	return ok
}

// Len reports the number of live keys.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func (c *Coalescer) expire(key Key, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[key]
	if !ok || s.gen != gen {
		return
	}
	c.removeLocked(key)
	c.publishLocked(key, false)
	observability.IncExpiry("typing")
}

func (c *Coalescer) clearLocked(key Key) bool {
	s, ok := c.states[key]
	if !ok {
		return false
	}
	s.timer.Stop()
	c.removeLocked(key)
	c.publishLocked(key, false)
	return true
}

func (c *Coalescer) removeLocked(key Key) {
	delete(c.states, key)
	if chats, ok := c.byUser[key.UserID]; ok {
		delete(chats, key.ChatID)
		if len(chats) == 0 {
			delete(c.byUser, key.UserID)
		}
	}
}

func (c *Coalescer) publishLocked(key Key, typing bool) {
	now := c.clock.Now()
	ind := models.TypingIndicator{UserID: key.UserID, ChatID: key.ChatID, IsTyping: typing, Timestamp: now}
	c.pub.Publish(models.NewChatEvent(models.EventTypingChanged, key.ChatID, now, ind))
	c.log.Debug("typing changed",
		zap.String("user_id", key.UserID.String()),
		zap.String("chat_id", key.ChatID.String()),
		zap.Bool("is_typing", typing))
}
