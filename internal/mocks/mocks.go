package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) CreateChat(ctx context.Context, creatorID uuid.UUID, kind models.ChatKind, name *string, participantIDs []uuid.UUID) (models.ChatView, bool, error) {
	args := m.Called(ctx, creatorID, kind, name, participantIDs)
	var view models.ChatView
	if val := args.Get(0); val != nil {
		view = val.(models.ChatView)
	}
	return view, args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) ListChats(ctx context.Context, userID uuid.UUID) ([]models.ChatListing, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatListing
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatListing)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) GetChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error) {
	args := m.Called(ctx, chatID, userID)
	var view models.ChatView
	if val := args.Get(0); val != nil {
		view = val.(models.ChatView)
	}
	return view, args.Error(1)
}

func (m *ChatServiceMock) AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) (models.ChatView, error) {
	args := m.Called(ctx, chatID, actorID, userIDs)
	var view models.ChatView
	if val := args.Get(0); val != nil {
		view = val.(models.ChatView)
	}
	return view, args.Error(1)
}

func (m *ChatServiceMock) LeaveChat(ctx context.Context, chatID, userID uuid.UUID) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) EditMessage(ctx context.Context, chatID, messageID, userID uuid.UUID, content string) (models.Message, error) {
	args := m.Called(ctx, chatID, messageID, userID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) DeleteMessage(ctx context.Context, chatID, messageID, userID uuid.UUID) (models.Message, error) {
	args := m.Called(ctx, chatID, messageID, userID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit int, cursor string) (models.MessageListing, error) {
	args := m.Called(ctx, chatID, userID, limit, cursor)
	var page models.MessageListing
	if val := args.Get(0); val != nil {
		page = val.(models.MessageListing)
	}
	return page, args.Error(1)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, chatID, userID, messageID uuid.UUID) (models.ReadState, error) {
	args := m.Called(ctx, chatID, userID, messageID)
	var state models.ReadState
	if val := args.Get(0); val != nil {
		state = val.(models.ReadState)
	}
	return state, args.Error(1)
}

func (m *ChatServiceMock) SetTyping(ctx context.Context, chatID, userID uuid.UUID, typing bool) error {
	args := m.Called(ctx, chatID, userID, typing)
	return args.Error(0)
}

type FriendServiceMock struct {
	mock.Mock
}

func (m *FriendServiceMock) request(args mock.Arguments) (models.FriendRequest, error) {
	var req models.FriendRequest
	if val := args.Get(0); val != nil {
		req = val.(models.FriendRequest)
	}
	return req, args.Error(1)
}

func (m *FriendServiceMock) SendRequest(ctx context.Context, senderID, receiverID uuid.UUID, message *string) (models.FriendRequest, error) {
	return m.request(m.Called(ctx, senderID, receiverID, message))
}

func (m *FriendServiceMock) AcceptRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error) {
	return m.request(m.Called(ctx, requestID, receiverID))
}

func (m *FriendServiceMock) DeclineRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error) {
	return m.request(m.Called(ctx, requestID, receiverID))
}

func (m *FriendServiceMock) CancelRequest(ctx context.Context, requestID, senderID uuid.UUID) (models.FriendRequest, error) {
	return m.request(m.Called(ctx, requestID, senderID))
}

func (m *FriendServiceMock) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	return m.Called(ctx, userID, friendID).Error(0)
}

func (m *FriendServiceMock) Block(ctx context.Context, userID, targetID uuid.UUID) error {
	return m.Called(ctx, userID, targetID).Error(0)
}

func (m *FriendServiceMock) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	return m.Called(ctx, userID, targetID).Error(0)
}

func (m *FriendServiceMock) Status(ctx context.Context, userID, otherID uuid.UUID) (models.RelationState, error) {
	args := m.Called(ctx, userID, otherID)
	var state models.RelationState
	if val := args.Get(0); val != nil {
		state = val.(models.RelationState)
	}
	return state, args.Error(1)
}

func (m *FriendServiceMock) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.FriendView, error) {
	args := m.Called(ctx, userID)
	var list []models.FriendView
	if val := args.Get(0); val != nil {
		list = val.([]models.FriendView)
	}
	return list, args.Error(1)
}

func (m *FriendServiceMock) ListRequests(ctx context.Context, userID uuid.UUID, direction models.RequestDirection) ([]models.FriendRequestView, error) {
	args := m.Called(ctx, userID, direction)
	var list []models.FriendRequestView
	if val := args.Get(0); val != nil {
		list = val.([]models.FriendRequestView)
	}
	return list, args.Error(1)
}

type PresenceServiceMock struct {
	mock.Mock
}

func (m *PresenceServiceMock) SetStatus(ctx context.Context, userID uuid.UUID, status models.PresenceStatus) (models.PresenceRecord, error) {
	args := m.Called(ctx, userID, status)
	var rec models.PresenceRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.PresenceRecord)
	}
	return rec, args.Error(1)
}

func (m *PresenceServiceMock) Heartbeat(ctx context.Context, userID uuid.UUID) models.PresenceRecord {
	args := m.Called(ctx, userID)
	var rec models.PresenceRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.PresenceRecord)
	}
	return rec
}

func (m *PresenceServiceMock) Get(ctx context.Context, callerID uuid.UUID, userIDs []uuid.UUID) ([]models.PresenceRecord, error) {
	args := m.Called(ctx, callerID, userIDs)
	var list []models.PresenceRecord
	if val := args.Get(0); val != nil {
		list = val.([]models.PresenceRecord)
	}
	return list, args.Error(1)
}

type UserServiceMock struct {
	mock.Mock
}

func (m *UserServiceMock) SearchUsers(ctx context.Context, callerID uuid.UUID, query string, limit int) ([]models.UserSearchResult, error) {
	args := m.Called(ctx, callerID, query, limit)
	var list []models.UserSearchResult
	if val := args.Get(0); val != nil {
		list = val.([]models.UserSearchResult)
	}
	return list, args.Error(1)
}
