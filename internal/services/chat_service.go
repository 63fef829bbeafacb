package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/media"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// Typing is the part of the typing coalescer the chat service drives.
type Typing interface {
	Start(userID, chatID uuid.UUID)
	Stop(userID, chatID uuid.UUID) bool
}

// ChatService serves chat and message commands.
type ChatService struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	friends  repositories.FriendRepository
	typing   Typing
	profiles profileResolver
	pool     *Pool
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
}

// NewChatService wires a ChatService. dir, store and audit may be nil.
func NewChatService(chats repositories.ChatRepository, messages repositories.MessageRepository, friends repositories.FriendRepository,
	typing Typing, dir ProfileDirectory, store media.Store, pool *Pool, audit *telemetry.AuditEmitter, log *zap.Logger) *ChatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		chats:    chats,
		messages: messages,
		friends:  friends,
		typing:   typing,
		profiles: profileResolver{dir: dir, media: store, log: log},
		pool:     pool,
		audit:    audit,
		log:      log,
	}
}

// CreateChat creates a group chat, or returns the direct chat of the pair. A direct
// chat is refused while either side blocks the other.
func (s *ChatService) CreateChat(ctx context.Context, creatorID uuid.UUID, kind models.ChatKind, name *string, participantIDs []uuid.UUID) (models.ChatView, bool, error) {
	type result struct {
		view    models.ChatView
		created bool
	}
	res, err := run(ctx, s.pool, func(ctx context.Context) (result, error) {
		if kind == models.ChatKindDirect && len(participantIDs) == 1 {
			blocked, err := s.friends.IsBlockedEither(ctx, creatorID, participantIDs[0])
			if err != nil {
				return result{}, err
			}
			if blocked {
				return result{}, fmt.Errorf("direct chat with a blocked user: %w", apperrors.ErrForbidden)
			}
		}
		view, created, err := s.chats.CreateChat(ctx, creatorID, kind, name, participantIDs)
		return result{view, created}, err
	})
	if err != nil {
		return models.ChatView{}, false, err
	}
	if res.created {
		s.audit.Command(ctx, "create_chat", requestID(ctx), creatorID, map[string]any{"chat_id": res.view.ID.String(), "kind": string(kind)})
	}
	return res.view, res.created, nil
}

// GetChat returns a chat the user participates in.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error) {
	return run(ctx, s.pool, func(ctx context.Context) (models.ChatView, error) {
		return s.chats.GetChat(ctx, chatID, userID)
	})
}

// ListChats returns the user's chats with the other members' profiles.
func (s *ChatService) ListChats(ctx context.Context, userID uuid.UUID) ([]models.ChatListing, error) {
	chats, err := run(ctx, s.pool, func(ctx context.Context) ([]models.ChatSummary, error) {
		return s.chats.ListChatsForUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	var others []uuid.UUID
	for _, c := range chats {
		for _, id := range c.MemberIDs {
			if id != userID {
				others = append(others, id)
			}
		}
	}
	profiles := s.profiles.lookup(ctx, others)

	out := make([]models.ChatListing, 0, len(chats))
	for _, c := range chats {
		members := make([]uuid.UUID, 0, len(c.MemberIDs))
		for _, id := range c.MemberIDs {
			if id != userID {
				members = append(members, id)
			}
		}
		out = append(out, models.ChatListing{ChatSummary: c, Members: profilesFor(members, profiles)})
	}
	return out, nil
}

// AddParticipants adds users to a group chat.
func (s *ChatService) AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) (models.ChatView, error) {
	view, err := run(ctx, s.pool, func(ctx context.Context) (models.ChatView, error) {
		return s.chats.AddParticipants(ctx, chatID, actorID, userIDs)
	})
	if err != nil {
		return models.ChatView{}, err
	}
	s.audit.Command(ctx, "add_participants", requestID(ctx), actorID, map[string]any{"chat_id": chatID.String(), "count": len(userIDs)})
	return view, nil
}

// LeaveChat removes the user from a group chat and clears their typing state there.
func (s *ChatService) LeaveChat(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := run(ctx, s.pool, func(ctx context.Context) (models.ChatView, error) {
		return s.chats.LeaveChat(ctx, chatID, userID)
	})
	if err != nil {
		return err
	}
	s.typing.Stop(userID, chatID)
	s.audit.Command(ctx, "leave_chat", requestID(ctx), userID, map[string]any{"chat_id": chatID.String()})
	return nil
}

// SendMessage stores a message. A successful send ends the sender's typing state.
func (s *ChatService) SendMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error) {
	type result struct {
		msg     models.Message
		created bool
	}
	res, err := run(ctx, s.pool, func(ctx context.Context) (result, error) {
		msg, created, err := s.messages.SendMessage(ctx, in)
		return result{msg, created}, err
	})
	if err != nil {
		return models.Message{}, false, err
	}
	s.typing.Stop(in.SenderID, in.ChatID)
	if res.created {
		s.audit.Command(ctx, "send_message", requestID(ctx), in.SenderID, map[string]any{"chat_id": in.ChatID.String(), "message_id": res.msg.ID.String()})
	}
	return res.msg, res.created, nil
}

// EditMessage changes the content of the caller's message in chatID.
func (s *ChatService) EditMessage(ctx context.Context, chatID, messageID, userID uuid.UUID, content string) (models.Message, error) {
	msg, err := run(ctx, s.pool, func(ctx context.Context) (models.Message, error) {
		if err := s.checkMessageChat(ctx, chatID, messageID); err != nil {
			return models.Message{}, err
		}
		return s.messages.EditMessage(ctx, messageID, userID, content)
	})
	if err != nil {
		return models.Message{}, err
	}
	s.audit.Command(ctx, "edit_message", requestID(ctx), userID, map[string]any{"chat_id": chatID.String(), "message_id": messageID.String()})
	return msg, nil
}

// DeleteMessage tombstones the caller's message in chatID.
func (s *ChatService) DeleteMessage(ctx context.Context, chatID, messageID, userID uuid.UUID) (models.Message, error) {
	msg, err := run(ctx, s.pool, func(ctx context.Context) (models.Message, error) {
		if err := s.checkMessageChat(ctx, chatID, messageID); err != nil {
			return models.Message{}, err
		}
		return s.messages.DeleteMessage(ctx, messageID, userID)
	})
	if err != nil {
		return models.Message{}, err
	}
	s.audit.Command(ctx, "delete_message", requestID(ctx), userID, map[string]any{"chat_id": chatID.String(), "message_id": messageID.String()})
	return msg, nil
}

func (s *ChatService) checkMessageChat(ctx context.Context, chatID, messageID uuid.UUID) error {
	owner, err := s.messages.ChatOf(ctx, messageID)
	if err != nil {
		return err
	}
	if owner != chatID {
		return fmt.Errorf("message: %w", apperrors.ErrNotFound)
	}
	return nil
}

// ListMessages returns one page of history with sender profiles.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit int, cursor string) (models.MessageListing, error) {
	page, err := run(ctx, s.pool, func(ctx context.Context) (models.MessagePage, error) {
		return s.messages.ListMessages(ctx, chatID, userID, limit, cursor)
	})
	if err != nil {
		return models.MessageListing{}, err
	}
	senders := make([]uuid.UUID, 0, len(page.Messages))
	for _, m := range page.Messages {
		senders = append(senders, m.SenderID)
	}
	senders = uniqueIDs(senders)
	return models.MessageListing{MessagePage: page, Senders: profilesFor(senders, s.profiles.lookup(ctx, senders))}, nil
}

// MarkRead advances the caller's read marker to messageID. It never moves backwards.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID, messageID uuid.UUID) (models.ReadState, error) {
	return run(ctx, s.pool, func(ctx context.Context) (models.ReadState, error) {
		return s.chats.MarkRead(ctx, chatID, userID, messageID)
	})
}

// SetTyping starts or stops the caller's typing state in a chat they belong to.
func (s *ChatService) SetTyping(ctx context.Context, chatID, userID uuid.UUID, typing bool) error {
	if !typing {
		s.typing.Stop(userID, chatID)
		return nil
	}
	ok, err := run(ctx, s.pool, func(ctx context.Context) (bool, error) {
		return s.chats.IsParticipant(ctx, chatID, userID)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chat: %w", apperrors.ErrNotFound)
	}
	s.typing.Start(userID, chatID)
	return nil
}
