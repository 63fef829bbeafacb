package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
)

const (
	// MaxContentLength bounds message content in runes.
	MaxContentLength = 4000
	// DefaultPageSize is used when ListMessages gets no limit.
	DefaultPageSize = 50
	// MaxPageSize caps ListMessages.
	MaxPageSize = 200
	// MaxIdempotencyKeyLength bounds client-supplied idempotency keys.
	MaxIdempotencyKeyLength = 128
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	SendMessage(ctx context.Context, msg models.NewMessage) (models.Message, bool, error)
	EditMessage(ctx context.Context, messageID, userID uuid.UUID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) (models.Message, error)
	ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit int, cursor string) (models.MessagePage, error)
	ChatOf(ctx context.Context, messageID uuid.UUID) (uuid.UUID, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	store
}

// NewMessageRepo constructs MessageRepo. It must share locks with the ChatRepo of the same database.
func NewMessageRepo(db *sqlx.DB, locks *Locks, sink EventSink, clk clock.Clock) *MessageRepo {
	return &MessageRepo{store: newStore(db, locks, sink, clk)}
}

const messageColumns = `id, chat_id, sender_id, content, kind, reply_to, created_at, edited_at, deleted_at`

func validateContent(kind models.MessageKind, content string) error {
	if !kind.Valid() {
		return fmt.Errorf("message kind %q: %w", kind, apperrors.ErrInvalid)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty message: %w", apperrors.ErrInvalid)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("message longer than %d characters: %w", MaxContentLength, apperrors.ErrInvalid)
	}
	return nil
}

// SendMessage stores a message and advances the chat's last_message_at. A repeated
// idempotency key returns the stored message with created=false and publishes nothing.
func (r *MessageRepo) SendMessage(ctx context.Context, in models.NewMessage) (models.Message, bool, error) {
	if in.Kind == "" {
		in.Kind = models.MessageKindText
	}
	if err := validateContent(in.Kind, in.Content); err != nil {
		return models.Message{}, false, err
	}
	if len(in.IdempotencyKey) > MaxIdempotencyKeyLength {
		return models.Message{}, false, fmt.Errorf("idempotency key too long: %w", apperrors.ErrInvalid)
	}

	unlock, err := r.locks.Chats.Lock(ctx, in.ChatID.String())
	if err != nil {
		return models.Message{}, false, err
	}
	defer unlock()

	var (
		msg     models.Message
		created bool
	)
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		chat, err := lockChatRow(ctx, tx, r.postgres(), in.ChatID)
		if err != nil {
			return err
		}
		if _, err := participantRole(ctx, tx, in.ChatID, in.SenderID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return fmt.Errorf("sender is not a participant: %w", apperrors.ErrForbidden)
			}
			return err
		}

		if in.IdempotencyKey != "" {
			var prior uuid.UUID
			err := tx.GetContext(ctx, &prior, tx.Rebind(`SELECT message_id FROM message_idempotency WHERE chat_id = ? AND sender_id = ? AND idem_key = ?`),
				in.ChatID, in.SenderID, in.IdempotencyKey)
			if err == nil {
				msg, err = loadMessage(ctx, tx, prior)
				return err
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check idempotency key: %w", err)
			}
		}

		if in.ReplyTo.Valid {
			var replyChat uuid.UUID
			err := tx.GetContext(ctx, &replyChat, tx.Rebind(`SELECT chat_id FROM messages WHERE id = ?`), in.ReplyTo.UUID)
			if err != nil {
				return notFound(err, "reply target")
			}
			if replyChat != in.ChatID {
				return fmt.Errorf("reply target: %w", apperrors.ErrNotFound)
			}
		}

		// created_at is strictly increasing per chat so (created_at, id) order is commit order.
		at := r.now()
		if floor := chat.LastMessageAt.Add(time.Microsecond); at.Before(floor) {
			at = floor.UTC()
		}
		msg = models.Message{
			ID:        uuid.New(),
			ChatID:    in.ChatID,
			SenderID:  in.SenderID,
			Content:   in.Content,
			Kind:      in.Kind,
			ReplyTo:   in.ReplyTo,
			CreatedAt: at,
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO messages (id, chat_id, sender_id, content, kind, reply_to, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.Kind, msg.ReplyTo, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chats SET last_message_at = ? WHERE id = ? AND last_message_at < ?`),
			msg.CreatedAt, msg.ChatID, msg.CreatedAt); err != nil {
			return fmt.Errorf("advance last_message_at: %w", err)
		}
		if in.IdempotencyKey != "" {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO message_idempotency (chat_id, sender_id, idem_key, message_id, created_at) VALUES (?, ?, ?, ?, ?)`),
				msg.ChatID, msg.SenderID, in.IdempotencyKey, msg.ID, msg.CreatedAt); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("idempotency key in use: %w", apperrors.ErrConflict)
				}
				return fmt.Errorf("record idempotency key: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return models.Message{}, false, err
	}
	if created {
		r.publish(models.NewChatEvent(models.EventMessageCreated, msg.ChatID, msg.CreatedAt, msg))
	}
	return msg, created, nil
}

// EditMessage replaces the content of a message owned by userID.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID, userID uuid.UUID, content string) (models.Message, error) {
	var msg models.Message
	changed, err := r.mutateOwned(ctx, messageID, userID, func(tx *sqlx.Tx, current models.Message) (bool, error) {
		if current.Deleted() {
			return false, fmt.Errorf("message was deleted: %w", apperrors.ErrConflict)
		}
		if err := validateContent(current.Kind, content); err != nil {
			return false, err
		}
		at := r.now()
		if at.Before(current.CreatedAt) {
			at = current.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE messages SET content = ?, edited_at = ? WHERE id = ?`), content, at, messageID); err != nil {
			return false, fmt.Errorf("update message: %w", err)
		}
		current.Content = content
		current.EditedAt = &at
		msg = current
		return true, nil
	})
	if err != nil {
		return models.Message{}, err
	}
	if changed {
		r.publish(models.NewChatEvent(models.EventMessageEdited, msg.ChatID, *msg.EditedAt, msg))
	}
	return msg, nil
}

// DeleteMessage tombstones a message owned by userID. Deleting a tombstone is a no-op.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) (models.Message, error) {
	var msg models.Message
	changed, err := r.mutateOwned(ctx, messageID, userID, func(tx *sqlx.Tx, current models.Message) (bool, error) {
		if current.Deleted() {
			msg = current
			return false, nil
		}
		at := r.now()
		if at.Before(current.CreatedAt) {
			at = current.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE messages SET content = '', deleted_at = ? WHERE id = ?`), at, messageID); err != nil {
			return false, fmt.Errorf("tombstone message: %w", err)
		}
		current.Content = ""
		current.DeletedAt = &at
		msg = current
		return true, nil
	})
	if err != nil {
		return models.Message{}, err
	}
	if changed {
		r.publish(models.NewChatEvent(models.EventMessageDeleted, msg.ChatID, *msg.DeletedAt, msg))
	}
	return msg, nil
}

// ChatOf returns the chat a message belongs to.
func (r *MessageRepo) ChatOf(ctx context.Context, messageID uuid.UUID) (uuid.UUID, error) {
	var chatID uuid.UUID
	if err := r.db.GetContext(ctx, &chatID, r.db.Rebind(`SELECT chat_id FROM messages WHERE id = ?`), messageID); err != nil {
		return uuid.Nil, apperrors.FromContext(notFound(err, "message"))
	}
	return chatID, nil
}

// mutateOwned runs fn under the chat lock after checking that userID may see and owns the message.
func (r *MessageRepo) mutateOwned(ctx context.Context, messageID, userID uuid.UUID, fn func(tx *sqlx.Tx, current models.Message) (bool, error)) (bool, error) {
	chatID, err := r.ChatOf(ctx, messageID)
	if err != nil {
		return false, err
	}

	unlock, err := r.locks.Chats.Lock(ctx, chatID.String())
	if err != nil {
		return false, err
	}
	defer unlock()

	var changed bool
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockChatRow(ctx, tx, r.postgres(), chatID); err != nil {
			return err
		}
		if _, err := participantRole(ctx, tx, chatID, userID); err != nil {
			return fmt.Errorf("message: %w", err)
		}
		current, err := loadMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if current.SenderID != userID {
			return fmt.Errorf("only the sender may change a message: %w", apperrors.ErrForbidden)
		}
		changed, err = fn(tx, current)
		return err
	})
	return changed, err
}

// ListMessages returns up to limit messages older than cursor, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit int, cursor string) (models.MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	cur, err := models.DecodeCursor(cursor)
	if err != nil {
		return models.MessagePage{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalid)
	}

	ok, err := isParticipant(ctx, r.db, chatID, userID)
	if err != nil {
		return models.MessagePage{}, err
	}
	if !ok {
		return models.MessagePage{}, fmt.Errorf("chat: %w", apperrors.ErrNotFound)
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ?`
	args := []any{chatID}
	if cur != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cur.CreatedAt, cur.CreatedAt, cur.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...); err != nil {
		return models.MessagePage{}, apperrors.FromContext(fmt.Errorf("list messages: %w", err))
	}

	page := models.MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
	}
	for i, j := 0, len(page.Messages)-1; i < j; i, j = i+1, j-1 {
		page.Messages[i], page.Messages[j] = page.Messages[j], page.Messages[i]
	}
	if page.HasMore {
		oldest := page.Messages[0]
		page.NextCursor = models.Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}.Encode()
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

func isParticipant(ctx context.Context, q rebindQueryer, chatID, userID uuid.UUID) (bool, error) {
	_, err := participantRole(ctx, q, chatID, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.FromContext(err)
	}
	return true, nil
}

func loadMessage(ctx context.Context, q rebindQueryer, id uuid.UUID) (models.Message, error) {
	var msg models.Message
	if err := sqlx.GetContext(ctx, q, &msg, q.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id); err != nil {
		return models.Message{}, notFound(err, "message")
	}
	return msg, nil
}
