package handlers

import (
	"context"

	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

// ChatService is the chat and message command API.
type ChatService interface {
	CreateChat(ctx context.Context, creatorID uuid.UUID, kind models.ChatKind, name *string, participantIDs []uuid.UUID) (models.ChatView, bool, error)
	ListChats(ctx context.Context, userID uuid.UUID) ([]models.ChatListing, error)
	GetChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error)
	AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) (models.ChatView, error)
	LeaveChat(ctx context.Context, chatID, userID uuid.UUID) error
	SendMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error)
	EditMessage(ctx context.Context, chatID, messageID, userID uuid.UUID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID, userID uuid.UUID) (models.Message, error)
	ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit int, cursor string) (models.MessageListing, error)
	MarkRead(ctx context.Context, chatID, userID, messageID uuid.UUID) (models.ReadState, error)
	SetTyping(ctx context.Context, chatID, userID uuid.UUID, typing bool) error
}

// FriendService is the friend graph command API.
type FriendService interface {
	SendRequest(ctx context.Context, senderID, receiverID uuid.UUID, message *string) (models.FriendRequest, error)
	AcceptRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error)
	DeclineRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error)
	CancelRequest(ctx context.Context, requestID, senderID uuid.UUID) (models.FriendRequest, error)
	RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error
	Block(ctx context.Context, userID, targetID uuid.UUID) error
	Unblock(ctx context.Context, userID, targetID uuid.UUID) error
	Status(ctx context.Context, userID, otherID uuid.UUID) (models.RelationState, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]models.FriendView, error)
	ListRequests(ctx context.Context, userID uuid.UUID, direction models.RequestDirection) ([]models.FriendRequestView, error)
}

// PresenceService reads and writes presence.
type PresenceService interface {
	SetStatus(ctx context.Context, userID uuid.UUID, status models.PresenceStatus) (models.PresenceRecord, error)
	Heartbeat(ctx context.Context, userID uuid.UUID) models.PresenceRecord
	Get(ctx context.Context, callerID uuid.UUID, userIDs []uuid.UUID) ([]models.PresenceRecord, error)
}

// UserService searches users.
type UserService interface {
	SearchUsers(ctx context.Context, callerID uuid.UUID, query string, limit int) ([]models.UserSearchResult, error)
}
