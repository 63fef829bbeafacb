package repositories

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/models"
)

func directChat(t *testing.T, f *fixture, a, b uuid.UUID) models.ChatView {
	t.Helper()
	view, _, err := f.chats.CreateChat(context.Background(), a, models.ChatKindDirect, nil, []uuid.UUID{b})
	require.NoError(t, err)
	return view
}

func TestSendMessageThenListRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat := directChat(t, f, u[0], u[1])

	sent, created, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "hello there"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.MessageKindText, sent.Kind)

	page, err := f.messages.ListMessages(ctx, chat.ID, u[1], 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent.ID, page.Messages[0].ID)
	assert.Equal(t, "hello there", page.Messages[0].Content)
	assert.False(t, page.HasMore)

	published := f.events.ofType(models.EventMessageCreated)
	require.Len(t, published, 1)
	assert.Equal(t, chat.ID, *published[0].ChatID)
}

func TestSendMessageAdvancesLastMessageAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat := directChat(t, f, u[0], u[1])

	m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[1], Content: "a"})
	require.NoError(t, err)
	assert.True(t, m.CreatedAt.After(chat.LastMessageAt))

	view, err := f.chats.GetChat(ctx, chat.ID, u[0])
	require.NoError(t, err)
	assert.True(t, view.LastMessageAt.Equal(m.CreatedAt))
}

func TestConcurrentSendsKeepStrictOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	group, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindGroup, nil, []uuid.UUID{u[1], u[2]})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: group.ID, SenderID: u[i%3], Content: "m"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	page, err := f.messages.ListMessages(ctx, group.ID, u[0], 100, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 30)
	for i := 1; i < len(page.Messages); i++ {
		assert.True(t, page.Messages[i].CreatedAt.After(page.Messages[i-1].CreatedAt))
	}

	events := f.events.ofType(models.EventMessageCreated)
	require.Len(t, events, 30)
	for i, ev := range events {
		assert.Equal(t, page.Messages[i].ID, ev.Payload.(models.Message).ID, "publish order must match commit order")
	}

	view, err := f.chats.GetChat(ctx, group.ID, u[0])
	require.NoError(t, err)
	assert.True(t, view.LastMessageAt.Equal(page.Messages[29].CreatedAt))
}

func TestSendMessageIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat := directChat(t, f, u[0], u[1])

	in := models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "once", IdempotencyKey: "k-1"}
	first, created, err := f.messages.SendMessage(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.messages.SendMessage(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other, created, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[1], Content: "once", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	page, err := f.messages.ListMessages(ctx, chat.ID, u[0], 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.Len(t, f.events.ofType(models.EventMessageCreated), 2)
}

func TestSendMessageAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	chat := directChat(t, f, u[0], u[1])

	_, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[2], Content: "intruder"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, _, err = f.messages.SendMessage(ctx, models.NewMessage{ChatID: uuid.New(), SenderID: u[0], Content: "nowhere"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSendMessageReplyMustBeInSameChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	chat := directChat(t, f, u[0], u[1])
	other := directChat(t, f, u[0], u[2])

	foreign, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: other.ID, SenderID: u[0], Content: "elsewhere"})
	require.NoError(t, err)
	_, _, err = f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "re", ReplyTo: uuid.NullUUID{UUID: foreign.ID, Valid: true}})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "re", ReplyTo: uuid.NullUUID{UUID: uuid.New(), Valid: true}})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	local, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[1], Content: "question"})
	require.NoError(t, err)
	reply, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "answer", ReplyTo: uuid.NullUUID{UUID: local.ID, Valid: true}})
	require.NoError(t, err)
	assert.Equal(t, local.ID, reply.ReplyTo.UUID)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat := directChat(t, f, u[0], u[1])

	cases := []models.NewMessage{
		{ChatID: chat.ID, SenderID: u[0], Content: "   "},
		{ChatID: chat.ID, SenderID: u[0], Content: strings.Repeat("a", MaxContentLength+1)},
		{ChatID: chat.ID, SenderID: u[0], Content: "x", Kind: "sticker"},
		{ChatID: chat.ID, SenderID: u[0], Content: "x", IdempotencyKey: strings.Repeat("k", MaxIdempotencyKeyLength+1)},
	}
	for _, in := range cases {
		_, _, err := f.messages.SendMessage(ctx, in)
		assert.ErrorIs(t, err, apperrors.ErrInvalid)
	}
}

func TestEditMessageOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	chat := directChat(t, f, u[0], u[1])
	m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "typo"})
	require.NoError(t, err)

	_, err = f.messages.EditMessage(ctx, m.ID, u[1], "hijack")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.messages.EditMessage(ctx, m.ID, u[2], "hijack")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.messages.EditMessage(ctx, uuid.New(), u[0], "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	edited, err := f.messages.EditMessage(ctx, m.ID, u[0], "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	require.NotNil(t, edited.EditedAt)
	assert.Len(t, f.events.ofType(models.EventMessageEdited), 1)

	page, err := f.messages.ListMessages(ctx, chat.ID, u[1], 10, "")
	require.NoError(t, err)
	assert.Equal(t, "fixed", page.Messages[0].Content)
	assert.NotNil(t, page.Messages[0].EditedAt)
}

func TestDeleteMessageLeavesTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat := directChat(t, f, u[0], u[1])
	m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "oops"})
	require.NoError(t, err)

	_, err = f.messages.DeleteMessage(ctx, m.ID, u[1])
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	deleted, err := f.messages.DeleteMessage(ctx, m.ID, u[0])
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())
	assert.Empty(t, deleted.Content)

	again, err := f.messages.DeleteMessage(ctx, m.ID, u[0])
	require.NoError(t, err)
	assert.True(t, again.Deleted())
	assert.Len(t, f.events.ofType(models.EventMessageDeleted), 1)

	_, err = f.messages.EditMessage(ctx, m.ID, u[0], "revive")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	page, err := f.messages.ListMessages(ctx, chat.ID, u[1], 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Deleted())
}

func TestListMessagesPaginatesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(2)
	chat := directChat(t, f, u[0], u[1])

	var sent []models.Message
	for i := 0; i < 7; i++ {
		m, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[i%2], Content: "m"})
		require.NoError(t, err)
		sent = append(sent, m)
	}

	page, err := f.messages.ListMessages(ctx, chat.ID, u[0], 3, "")
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, sent[4].ID, page.Messages[0].ID)
	assert.Equal(t, sent[6].ID, page.Messages[2].ID)

	// A message arriving between pages must not shift the next page.
	_, _, err = f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "late"})
	require.NoError(t, err)

	page, err = f.messages.ListMessages(ctx, chat.ID, u[0], 3, page.NextCursor)
	require.NoError(t, err)
	require.True(t, page.HasMore)
	assert.Equal(t, sent[1].ID, page.Messages[0].ID)
	assert.Equal(t, sent[3].ID, page.Messages[2].ID)

	page, err = f.messages.ListMessages(ctx, chat.ID, u[0], 3, page.NextCursor)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent[0].ID, page.Messages[0].ID)
	assert.Empty(t, page.NextCursor)
}

func TestListMessagesRejectsNonParticipantsAndBadCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	chat := directChat(t, f, u[0], u[1])
	_, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: chat.ID, SenderID: u[0], Content: "secret"})
	require.NoError(t, err)

	page, err := f.messages.ListMessages(ctx, chat.ID, u[2], 10, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, page.Messages)

	_, err = f.messages.ListMessages(ctx, chat.ID, u[0], 10, "%%%")
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestLateJoinerSeesHistoryThroughListMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := newUsers(3)
	group, _, err := f.chats.CreateChat(ctx, u[0], models.ChatKindGroup, nil, []uuid.UUID{u[1]})
	require.NoError(t, err)
	before, _, err := f.messages.SendMessage(ctx, models.NewMessage{ChatID: group.ID, SenderID: u[0], Content: "before"})
	require.NoError(t, err)

	_, err = f.messages.ListMessages(ctx, group.ID, u[2], 10, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	view, err := f.chats.AddParticipants(ctx, group.ID, u[0], []uuid.UUID{u[2]})
	require.NoError(t, err)
	for _, p := range view.Participants {
		if p.UserID == u[2] {
			assert.True(t, p.JoinedAt.After(before.CreatedAt), "joined_at must sort after existing history")
		}
	}
	page, err := f.messages.ListMessages(ctx, group.ID, u[2], 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
}
