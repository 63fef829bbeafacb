package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind is the content type of a message.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindImage  MessageKind = "image"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile, MessageKindSystem:
		return true
	}
	return false
}

// Message represents a chat message. Deleted messages are tombstones: the row stays,
// content is cleared and DeletedAt is set.
type Message struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	ChatID    uuid.UUID     `db:"chat_id" json:"chat_id"`
	SenderID  uuid.UUID     `db:"sender_id" json:"sender_id"`
	Content   string        `db:"content" json:"content"`
	Kind      MessageKind   `db:"kind" json:"kind"`
	ReplyTo   uuid.NullUUID `db:"reply_to" json:"reply_to"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	EditedAt  *time.Time    `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Deleted reports whether the message has been tombstoned.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// NewMessage is the input of SendMessage.
type NewMessage struct {
	ChatID         uuid.UUID
	SenderID       uuid.UUID
	Content        string
	Kind           MessageKind
	ReplyTo        uuid.NullUUID
	IdempotencyKey string
}

// MessagePage is one page of ListMessages, oldest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
