package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
)

// ChatRepository abstracts chat and membership persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, creatorID uuid.UUID, kind models.ChatKind, name *string, participantIDs []uuid.UUID) (models.ChatView, bool, error)
	GetChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error)
	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	Members(ctx context.Context, chatID uuid.UUID) ([]models.ChatParticipant, error)
	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error)
	AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) (models.ChatView, error)
	LeaveChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error)
	MarkRead(ctx context.Context, chatID, userID, messageID uuid.UUID) (models.ReadState, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	store
}

// NewChatRepo constructs a ChatRepo. Committed membership changes are published to sink.
func NewChatRepo(db *sqlx.DB, locks *Locks, sink EventSink, clk clock.Clock) *ChatRepo {
	return &ChatRepo{store: newStore(db, locks, sink, clk)}
}

const chatColumns = `c.id, c.kind, c.name, c.created_by, c.created_at, c.last_message_at`

// CreateChat creates a chat with the creator as admin and the others as members.
// A direct chat for an existing pair is returned as-is with created=false.
func (r *ChatRepo) CreateChat(ctx context.Context, creatorID uuid.UUID, kind models.ChatKind, name *string, participantIDs []uuid.UUID) (models.ChatView, bool, error) {
	if !kind.Valid() {
		return models.ChatView{}, false, fmt.Errorf("chat kind %q: %w", kind, apperrors.ErrInvalid)
	}

	switch kind {
	case models.ChatKindDirect:
		if len(participantIDs) != 1 {
			return models.ChatView{}, false, fmt.Errorf("direct chat needs exactly one other participant: %w", apperrors.ErrInvalid)
		}
		if participantIDs[0] == creatorID {
			return models.ChatView{}, false, fmt.Errorf("cannot create chat with self: %w", apperrors.ErrInvalid)
		}
		return r.createDirect(ctx, creatorID, participantIDs[0])
	default:
		others := dedupe(participantIDs, creatorID)
		if len(others) == 0 {
			return models.ChatView{}, false, fmt.Errorf("group chat needs participants: %w", apperrors.ErrInvalid)
		}
		var view models.ChatView
		err := r.withTx(ctx, func(tx *sqlx.Tx) error {
			var err error
			view, err = r.insertChat(ctx, tx, creatorID, kind, name, others)
			return err
		})
		if err != nil {
			return models.ChatView{}, false, err
		}
		r.publish(models.NewChatEvent(models.EventChatUpdated, view.ID, view.CreatedAt, view))
		return view, true, nil
	}
}

func (r *ChatRepo) createDirect(ctx context.Context, creatorID, otherID uuid.UUID) (models.ChatView, bool, error) {
	key := "direct:" + models.PairKey(creatorID, otherID)
	unlock, err := r.locks.Pairs.Lock(ctx, key)
	if err != nil {
		return models.ChatView{}, false, err
	}
	defer unlock()

	var (
		view    models.ChatView
		created bool
	)
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.lockPairTx(ctx, tx, key); err != nil {
			return err
		}
		var existing uuid.UUID
		err := tx.GetContext(ctx, &existing, tx.Rebind(`SELECT chat_id FROM direct_chats WHERE pair_key = ?`), key)
		switch {
		case err == nil:
			view, err = loadChatView(ctx, tx, existing)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find direct chat: %w", err)
		}

		view, err = r.insertChat(ctx, tx, creatorID, models.ChatKindDirect, nil, []uuid.UUID{otherID})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO direct_chats (pair_key, chat_id) VALUES (?, ?)`), key, view.ID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("direct chat raced: %w", apperrors.ErrConflict)
			}
			return fmt.Errorf("insert direct chat: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return models.ChatView{}, false, err
	}
	if created {
		r.publish(models.NewChatEvent(models.EventChatUpdated, view.ID, view.CreatedAt, view))
	}
	return view, created, nil
}

func (r *ChatRepo) insertChat(ctx context.Context, tx *sqlx.Tx, creatorID uuid.UUID, kind models.ChatKind, name *string, others []uuid.UUID) (models.ChatView, error) {
	now := r.now()
	chat := models.Chat{ID: uuid.New(), Kind: kind, CreatedBy: creatorID, CreatedAt: now, LastMessageAt: now}
	if kind == models.ChatKindGroup {
		chat.Name = name
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chats (id, kind, name, created_by, created_at, last_message_at) VALUES (?, ?, ?, ?, ?, ?)`),
		chat.ID, chat.Kind, chat.Name, chat.CreatedBy, chat.CreatedAt, chat.LastMessageAt); err != nil {
		return models.ChatView{}, fmt.Errorf("insert chat: %w", err)
	}

	participants := []models.ChatParticipant{{ChatID: chat.ID, UserID: creatorID, Role: models.RoleAdmin, JoinedAt: now}}
	for _, id := range others {
		participants = append(participants, models.ChatParticipant{ChatID: chat.ID, UserID: id, Role: models.RoleMember, JoinedAt: now})
	}
	for _, p := range participants {
		if err := insertParticipant(ctx, tx, p); err != nil {
			return models.ChatView{}, err
		}
	}
	return models.ChatView{Chat: chat, Participants: participants}, nil
}

func insertParticipant(ctx context.Context, tx *sqlx.Tx, p models.ChatParticipant) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`),
		p.ChatID, p.UserID, p.Role, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// GetChat returns the chat and its participants if userID is one of them.
func (r *ChatRepo) GetChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error) {
	ok, err := r.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return models.ChatView{}, err
	}
	if !ok {
		return models.ChatView{}, fmt.Errorf("chat: %w", apperrors.ErrNotFound)
	}
	return loadChatView(ctx, r.db, chatID)
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM chat_participants WHERE chat_id = ? AND user_id = ?`), chatID, userID)
	if err != nil {
		return false, apperrors.FromContext(fmt.Errorf("check participant: %w", err))
	}
	return n > 0, nil
}

// Members returns the current participant rows of a chat, oldest joiner first.
func (r *ChatRepo) Members(ctx context.Context, chatID uuid.UUID) ([]models.ChatParticipant, error) {
	var members []models.ChatParticipant
	err := r.db.SelectContext(ctx, &members, r.db.Rebind(`SELECT chat_id, user_id, role, joined_at, last_read_at, last_read_message_id
        FROM chat_participants WHERE chat_id = ? ORDER BY joined_at, user_id`), chatID)
	if err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("list members: %w", err))
	}
	return members, nil
}

// ListChatsForUser returns the user's chats, most recently active first, with unread counts.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error) {
	query := `SELECT ` + chatColumns + `, cp.role, cp.last_read_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.chat_id = c.id
                AND m.sender_id <> cp.user_id
                AND m.deleted_at IS NULL
                AND m.created_at >= cp.joined_at
                AND (cp.last_read_at IS NULL OR m.created_at > cp.last_read_at)) AS unread_count
        FROM chat_participants cp
        INNER JOIN chats c ON c.id = cp.chat_id
        WHERE cp.user_id = ?
        ORDER BY c.last_message_at DESC, c.id DESC`
	var chats []models.ChatSummary
	if err := r.db.SelectContext(ctx, &chats, r.db.Rebind(query), userID); err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("list chats: %w", err))
	}
	if len(chats) == 0 {
		return chats, nil
	}

	ids := make([]uuid.UUID, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	q, args, err := sqlx.In(`SELECT chat_id, user_id FROM chat_participants WHERE chat_id IN (?) ORDER BY joined_at, user_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}
	var rows []struct {
		ChatID uuid.UUID `db:"chat_id"`
		UserID uuid.UUID `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("list chat members: %w", err))
	}
	members := make(map[uuid.UUID][]uuid.UUID, len(chats))
	for _, row := range rows {
		members[row.ChatID] = append(members[row.ChatID], row.UserID)
	}
	for i := range chats {
		chats[i].MemberIDs = members[chats[i].ID]
	}
	return chats, nil
}

// AddParticipants adds members to a group chat. Only admins may do this.
// Users already present are skipped.
func (r *ChatRepo) AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) (models.ChatView, error) {
	userIDs = dedupe(userIDs, actorID)
	if len(userIDs) == 0 {
		return models.ChatView{}, fmt.Errorf("no participants to add: %w", apperrors.ErrInvalid)
	}
	unlock, err := r.locks.Chats.Lock(ctx, chatID.String())
	if err != nil {
		return models.ChatView{}, err
	}
	defer unlock()

	var (
		view  models.ChatView
		added int
	)
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		chat, err := r.lockChatTx(ctx, tx, chatID)
		if err != nil {
			return err
		}
		role, err := participantRole(ctx, tx, chatID, actorID)
		if err != nil {
			return err
		}
		if chat.Kind != models.ChatKindGroup {
			return fmt.Errorf("participants of a direct chat are fixed: %w", apperrors.ErrForbidden)
		}
		if role != models.RoleAdmin {
			return fmt.Errorf("only admins add participants: %w", apperrors.ErrForbidden)
		}

		// New members must sort after every message already committed so the
		// router never hands them history they were not present for.
		joinedAt := r.now()
		if floor := chat.LastMessageAt.Add(time.Microsecond); joinedAt.Before(floor) {
			joinedAt = floor
		}
		for _, id := range userIDs {
			if _, err := participantRole(ctx, tx, chatID, id); err == nil {
				continue
			} else if !errors.Is(err, apperrors.ErrNotFound) {
				return err
			}
			if err := insertParticipant(ctx, tx, models.ChatParticipant{ChatID: chatID, UserID: id, Role: models.RoleMember, JoinedAt: joinedAt}); err != nil {
				return err
			}
			added++
		}
		view, err = loadChatView(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return models.ChatView{}, err
	}
	if added > 0 {
		r.publish(models.NewChatEvent(models.EventChatUpdated, chatID, r.now(), view))
	}
	return view, nil
}

// LeaveChat removes the user from a group chat. When the last admin leaves, the
// longest-standing member is promoted.
func (r *ChatRepo) LeaveChat(ctx context.Context, chatID, userID uuid.UUID) (models.ChatView, error) {
	unlock, err := r.locks.Chats.Lock(ctx, chatID.String())
	if err != nil {
		return models.ChatView{}, err
	}
	defer unlock()

	var view models.ChatView
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		chat, err := r.lockChatTx(ctx, tx, chatID)
		if err != nil {
			return err
		}
		role, err := participantRole(ctx, tx, chatID, userID)
		if err != nil {
			return err
		}
		if chat.Kind == models.ChatKindDirect {
			return fmt.Errorf("cannot leave a direct chat: %w", apperrors.ErrForbidden)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_participants WHERE chat_id = ? AND user_id = ?`), chatID, userID); err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if role == models.RoleAdmin {
			if err := promoteIfNoAdmin(ctx, tx, chatID); err != nil {
				return err
			}
		}
		view, err = loadChatView(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return models.ChatView{}, err
	}

	ev := models.NewChatEvent(models.EventChatUpdated, chatID, r.now(), view)
	ev.Recipients = []uuid.UUID{userID}
	r.publish(ev)
	return view, nil
}

func promoteIfNoAdmin(ctx context.Context, tx *sqlx.Tx, chatID uuid.UUID) error {
	var admins int
	if err := tx.GetContext(ctx, &admins, tx.Rebind(`SELECT COUNT(*) FROM chat_participants WHERE chat_id = ? AND role = ?`), chatID, models.RoleAdmin); err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		return nil
	}
	var next uuid.UUID
	err := tx.GetContext(ctx, &next, tx.Rebind(`SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY joined_at, user_id LIMIT 1`), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pick admin: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE chat_participants SET role = ? WHERE chat_id = ? AND user_id = ?`), models.RoleAdmin, chatID, next)
	return err
}

// MarkRead moves the read marker to messageID. A marker that would move backwards is
// left alone and reported with Advanced=false.
func (r *ChatRepo) MarkRead(ctx context.Context, chatID, userID, messageID uuid.UUID) (models.ReadState, error) {
	state := models.ReadState{ChatID: chatID, UserID: userID}
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := participantRole(ctx, tx, chatID, userID); err != nil {
			return err
		}
		var readAt time.Time
		err := tx.GetContext(ctx, &readAt, tx.Rebind(`SELECT created_at FROM messages WHERE id = ? AND chat_id = ?`), messageID, chatID)
		if err != nil {
			return notFound(err, "message")
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chat_participants SET last_read_at = ?, last_read_message_id = ?
            WHERE chat_id = ? AND user_id = ? AND (last_read_at IS NULL OR last_read_at < ?)`),
			readAt, messageID, chatID, userID, readAt)
		if err != nil {
			return fmt.Errorf("update read marker: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		state.Advanced = n > 0

		var p models.ChatParticipant
		if err := tx.GetContext(ctx, &p, tx.Rebind(`SELECT chat_id, user_id, role, joined_at, last_read_at, last_read_message_id
            FROM chat_participants WHERE chat_id = ? AND user_id = ?`), chatID, userID); err != nil {
			return notFound(err, "participant")
		}
		state.LastReadAt = p.LastReadAt
		state.LastReadMessageID = p.LastReadMessageID
		return nil
	})
	if err != nil {
		return models.ReadState{}, err
	}
	return state, nil
}

// lockChatTx loads the chat row, locking it on Postgres.
func (r *ChatRepo) lockChatTx(ctx context.Context, tx *sqlx.Tx, chatID uuid.UUID) (models.Chat, error) {
	return lockChatRow(ctx, tx, r.postgres(), chatID)
}

func lockChatRow(ctx context.Context, tx *sqlx.Tx, postgres bool, chatID uuid.UUID) (models.Chat, error) {
	query := `SELECT id, kind, name, created_by, created_at, last_message_at FROM chats WHERE id = ?`
	if postgres {
		query += ` FOR UPDATE`
	}
	var chat models.Chat
	if err := tx.GetContext(ctx, &chat, tx.Rebind(query), chatID); err != nil {
		return models.Chat{}, notFound(err, "chat")
	}
	return chat, nil
}

func participantRole(ctx context.Context, q rebindQueryer, chatID, userID uuid.UUID) (models.ParticipantRole, error) {
	var role models.ParticipantRole
	err := sqlx.GetContext(ctx, q, &role, q.Rebind(`SELECT role FROM chat_participants WHERE chat_id = ? AND user_id = ?`), chatID, userID)
	if err != nil {
		return "", notFound(err, "chat")
	}
	return role, nil
}

type rebindQueryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func loadChatView(ctx context.Context, q rebindQueryer, chatID uuid.UUID) (models.ChatView, error) {
	var view models.ChatView
	if err := sqlx.GetContext(ctx, q, &view.Chat, q.Rebind(`SELECT id, kind, name, created_by, created_at, last_message_at FROM chats WHERE id = ?`), chatID); err != nil {
		return models.ChatView{}, notFound(err, "chat")
	}
	if err := sqlx.SelectContext(ctx, q, &view.Participants, q.Rebind(`SELECT chat_id, user_id, role, joined_at, last_read_at, last_read_message_id
        FROM chat_participants WHERE chat_id = ? ORDER BY joined_at, user_id`), chatID); err != nil {
		return models.ChatView{}, fmt.Errorf("load participants: %w", err)
	}
	return view, nil
}

// dedupe drops duplicates and exclude, keeping a stable order.
func dedupe(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{exclude: {}}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
