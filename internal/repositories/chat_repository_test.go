package repositories

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/models"
)

func TestCreateDirectChatIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)

	first, created, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, first.Participants, 2)
	assert.Equal(t, models.RoleAdmin, first.Participants[0].Role)
	assert.Equal(t, u[0], first.Participants[0].UserID)

	again, created, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	reverse, _, err := f.chats.CreateChat(ctx, u[1], models.ChatKindDirect, nil, []uuid.UUID{u[0]})
	require.NoError(t, err)
	assert.Equal(t, first.ID, reverse.ID)

	assert.Len(t, f.events.ofType(models.EventChatUpdated), 1)
}

func TestCreateDirectChatConcurrentCallersShareOneChat(t *testing.T) {
	f := newFixture(t)
	u := newUsers(2)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			view, _, err := f.chats.CreateChat(context.Background(), u[i%2], models.ChatKindDirect, nil, []uuid.UUID{u[(i+1)%2]})
			if assert.NoError(t, err) {
				ids[i] = view.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreateChatValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)

	_, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1], u[2]})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)

	_, _, err = f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalid)

	_, _, err = f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[0]})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)

	_, _, err = f.chats.CreateChat(ctx, u[0], models.ChatKindGroup, nil, []uuid.UUID{u[0]})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)

	_, _, err = f.chats.CreateChat(ctx, u[0], models.ChatKind("channel"), nil, []uuid.UUID{u[1]})
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestCreateGroupChatDedupesMembers(t *testing.T) {
	f := newFixture(t)
	u := newUsers(3)

	view, created, err := f.chats.CreateChat(context.Background(), u[0], models.ChatKindGroup, strPtr("trip"), []uuid.UUID{u[1], u[2], u[1], u[0]})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, view.Name)
	assert.Equal(t, "trip", *view.Name)
	assert.Len(t, view.Participants, 3)

	members, err := f.chats.Members(context.Background(), view.ID)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
		assert.Equal(t, f.clock.Now().UTC(), m.JoinedAt.UTC(), "founding members join with the chat")
	}
	assert.ElementsMatch(t, u, ids)
}

func TestAddParticipantsRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(4)
	group, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindGroup, strPtr("g"), []uuid.UUID{u[1]})
	require.NoError(t, err)

	_, err = f.chats.AddParticipants(ctx, group.ID, u[1], []uuid.UUID{u[2]})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.chats.AddParticipants(ctx, group.ID, u[3], []uuid.UUID{u[2]})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	f.events.reset()
	view, err := f.chats.AddParticipants(ctx, group.ID, u[0], []uuid.UUID{u[2], u[1]})
	require.NoError(t, err)
	assert.Len(t, view.Participants, 3)
	assert.Len(t, f.events.ofType(models.EventChatUpdated), 1)

	f.events.reset()
	_, err = f.chats.AddParticipants(ctx, group.ID, u[0], []uuid.UUID{u[2]})
	require.NoError(t, err)
	assert.Empty(t, f.events.ofType(models.EventChatUpdated))
}

func TestAddParticipantsRejectsDirectChat(t *testing.T) {
	f := newFixture(t)
	u := newUsers(3)
	direct, _, err := f.chats.CreateChat(context.Background(), u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)

	_, err = f.chats.AddParticipants(context.Background(), direct.ID, u[0], []uuid.UUID{u[2]})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestLeaveChatPromotesNextAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	group, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindGroup, nil, []uuid.UUID{u[1], u[2]})
	require.NoError(t, err)

	f.events.reset()
	view, err := f.chats.LeaveChat(ctx, group.ID, u[0])
	require.NoError(t, err)
	require.Len(t, view.Participants, 2)

	admins := 0
	for _, p := range view.Participants {
		if p.Role == models.RoleAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)

	updates := f.events.ofType(models.EventChatUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, []uuid.UUID{u[0]}, updates[0].Recipients)

	_, err = f.chats.LeaveChat(ctx, group.ID, u[0])
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLeaveDirectChatForbidden(t *testing.T) {
	f := newFixture(t)
	u := newUsers(2)
	direct, _, err := f.chats.CreateChat(context.Background(), u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)

	_, err = f.chats.LeaveChat(context.Background(), direct.ID, u[1])
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestListChatsForUserOrdersByActivityWithUnreadCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)

	older, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)
	newer, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[2]})
	require.NoError(t, err)

	_, _, err = f.messages.SendMessage(ctx, models.NewMessage{ChatID: newer.ID, SenderID: u[2], Content: "one"})
	require.NoError(t, err)
	m2, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: newer.ID, SenderID: u[2], Content: "two"})
	require.NoError(t, err)
	_, _, err = f.messages.SendMessage(ctx, models.NewMessage{ChatID: newer.ID, SenderID: u[0], Content: "mine"})
	require.NoError(t, err)

	chats, err := f.chats.ListChatsForUser(ctx, u[0])
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, newer.ID, chats[0].ID)
	assert.Equal(t, older.ID, chats[1].ID)
	assert.Equal(t, 2, chats[0].UnreadCount)
	assert.ElementsMatch(t, []uuid.UUID{u[0], u[2]}, chats[0].MemberIDs)

	_, err = f.chats.MarkRead(ctx, newer.ID, u[0], m2.ID)
	require.NoError(t, err)
	chats, err = f.chats.ListChatsForUser(ctx, u[0])
	require.NoError(t, err)
	assert.Equal(t, 0, chats[0].UnreadCount)

	none, err := f.chats.ListChatsForUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkReadNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)

	var msgs []models.Message
	for i := 0; i < 3; i++ {
		m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "hi"})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}

	state, err := f.chats.MarkRead(ctx, chat.ID, u[1], msgs[2].ID)
	require.NoError(t, err)
	assert.True(t, state.Advanced)
	require.NotNil(t, state.LastReadAt)
	assert.True(t, state.LastReadAt.Equal(msgs[2].CreatedAt))

	state, err = f.chats.MarkRead(ctx, chat.ID, u[1], msgs[0].ID)
	require.NoError(t, err)
	assert.False(t, state.Advanced)
	assert.True(t, state.LastReadAt.Equal(msgs[2].CreatedAt))
	assert.Equal(t, msgs[2].ID, state.LastReadMessageID.UUID)
}

func TestMarkReadConcurrentCallsKeepMaximum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)

	var msgs []models.Message
	for i := 0; i < 10; i++ {
		m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "x"})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}

	var wg sync.WaitGroup
	for i := len(msgs) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(m models.Message) {
			defer wg.Done()
			_, err := f.chats.MarkRead(ctx, chat.ID, u[1], m.ID)
			assert.NoError(t, err)
		}(msgs[i])
	}
	wg.Wait()

	state, err := f.chats.MarkRead(ctx, chat.ID, u[1], msgs[0].ID)
	require.NoError(t, err)
	assert.True(t, state.LastReadAt.Equal(msgs[9].CreatedAt))
}

func TestMarkReadVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	chat, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)
	other, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindDirect, nil, []uuid.UUID{u[2]})
	require.NoError(t, err)
	m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: other.ID, SenderID: u[0], Content: "elsewhere"})
	require.NoError(t, err)

	_, err = f.chats.MarkRead(ctx, chat.ID, u[2], m.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.chats.MarkRead(ctx, chat.ID, u[1], m.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetChatHidesFromNonParticipants(t *testing.T) {
	f := newFixture(t)
	u := newUsers(3)
	chat, _, err := f.chats.CreateChat(context.Background(), u[0], models.ChatKindDirect, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)

	_, err = f.chats.GetChat(context.Background(), chat.ID, u[2])
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	view, err := f.chats.GetChat(context.Background(), chat.ID, u[1])
	require.NoError(t, err)
	assert.Equal(t, chat.ID, view.ID)
}
