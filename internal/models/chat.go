package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatKind distinguishes one-to-one chats from groups.
type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// Valid reports whether k is a known chat kind.
func (k ChatKind) Valid() bool {
	return k == ChatKindDirect || k == ChatKindGroup
}

// ParticipantRole is the role of a user inside a chat.
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Chat is a conversation between participants.
type Chat struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Kind          ChatKind  `db:"kind" json:"kind"`
	Name          *string   `db:"name" json:"name,omitempty"`
	CreatedBy     uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// ChatParticipant is a membership row. last_read_at only moves forward.
type ChatParticipant struct {
	ChatID            uuid.UUID       `db:"chat_id" json:"chat_id"`
	UserID            uuid.UUID       `db:"user_id" json:"user_id"`
	Role              ParticipantRole `db:"role" json:"role"`
	JoinedAt          time.Time       `db:"joined_at" json:"joined_at"`
	LastReadAt        *time.Time      `db:"last_read_at" json:"last_read_at,omitempty"`
	LastReadMessageID uuid.NullUUID   `db:"last_read_message_id" json:"last_read_message_id"`
}

// ChatView is a chat with its current participant set. It is the payload of ChatUpdated.
type ChatView struct {
	Chat
	Participants []ChatParticipant `json:"participants"`
}

// ChatSummary is a per-user view of a chat used by chat listings.
type ChatSummary struct {
	Chat
	Role        ParticipantRole `db:"role" json:"role"`
	LastReadAt  *time.Time      `db:"last_read_at" json:"last_read_at,omitempty"`
	UnreadCount int             `db:"unread_count" json:"unread_count"`
	MemberIDs   []uuid.UUID     `db:"-" json:"member_ids"`
}

// ReadState is the result of a MarkRead call.
type ReadState struct {
	ChatID            uuid.UUID     `json:"chat_id"`
	UserID            uuid.UUID     `json:"user_id"`
	LastReadAt        *time.Time    `json:"last_read_at,omitempty"`
	LastReadMessageID uuid.NullUUID `json:"last_read_message_id"`
	Advanced          bool          `json:"advanced"`
}
