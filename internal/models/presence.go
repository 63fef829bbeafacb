package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user's availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known presence status.
func (s PresenceStatus) Valid() bool {
	return s == PresenceOnline || s == PresenceAway || s == PresenceOffline
}

// PresenceRecord is the single presence row of a user.
type PresenceRecord struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
	IsOnline bool           `json:"is_online"`
}

// TypingIndicator is the latest typing state of a (user, chat) pair.
type TypingIndicator struct {
	UserID    uuid.UUID `json:"user_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}
