package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a server-push event.
type EventType string

const (
	EventMessageCreated       EventType = "message_created"
	EventMessageEdited        EventType = "message_edited"
	EventMessageDeleted       EventType = "message_deleted"
	EventChatUpdated          EventType = "chat_updated"
	EventFriendRequestCreated EventType = "friend_request_created"
	EventFriendRequestUpdated EventType = "friend_request_updated"
	EventFriendshipCreated    EventType = "friendship_created"
	EventFriendshipRemoved    EventType = "friendship_removed"
	EventPresenceChanged      EventType = "presence_changed"
	EventTypingChanged        EventType = "typing_changed"
)

// Droppable reports whether the event may be discarded under backpressure.
// Presence and typing are superseded by the next update; everything else is not.
func (t EventType) Droppable() bool {
	return t == EventPresenceChanged || t == EventTypingChanged
}

// Event is the envelope pushed to sessions. Exactly one audience field is meaningful:
// ChatID for chat-scoped events, Subject for presence, Recipients otherwise.
// Recipients may also extend a chat-scoped audience (e.g. a user who just left).
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       EventType   `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	ChatID     *uuid.UUID  `json:"chat_id,omitempty"`
	Subject    *uuid.UUID  `json:"-"`
	Recipients []uuid.UUID `json:"-"`
	Payload    any         `json:"payload"`
}

// NewChatEvent builds an event delivered to the participants of chatID.
func NewChatEvent(t EventType, chatID uuid.UUID, at time.Time, payload any) Event {
	id := chatID
	return Event{ID: uuid.New(), Type: t, OccurredAt: at, ChatID: &id, Payload: payload}
}

// NewUserEvent builds an event delivered to an explicit set of users.
func NewUserEvent(t EventType, at time.Time, payload any, recipients ...uuid.UUID) Event {
	return Event{ID: uuid.New(), Type: t, OccurredAt: at, Recipients: recipients, Payload: payload}
}

// NewPresenceEvent builds an event delivered to the friends of subject.
func NewPresenceEvent(rec PresenceRecord) Event {
	subject := rec.UserID
	return Event{ID: uuid.New(), Type: EventPresenceChanged, OccurredAt: rec.LastSeen, Subject: &subject, Payload: rec}
}

// FriendshipChange is the payload of FriendshipCreated and FriendshipRemoved.
type FriendshipChange struct {
	UserID   uuid.UUID        `json:"user_id"`
	FriendID uuid.UUID        `json:"friend_id"`
	Status   FriendshipStatus `json:"status,omitempty"`
}
