package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
)

func typingEvent() models.Event {
	return models.NewChatEvent(models.EventTypingChanged, uuid.New(), t0, models.TypingIndicator{IsTyping: true})
}

func TestFullQueueDropsOldestTypingFirst(t *testing.T) {
	s := newSession(uuid.New(), 3, t0)
	typing := typingEvent()
	m1 := message(uuid.New(), t0, "one")
	m2 := message(uuid.New(), t0, "two")
	m3 := message(uuid.New(), t0, "three")

	require.True(t, s.enqueue(typing))
	require.True(t, s.enqueue(m1))
	require.True(t, s.enqueue(m2))
	require.True(t, s.enqueue(m3))
	assert.Equal(t, 3, s.Pending())

	ctx := context.Background()
	for _, want := range []models.Event{m1, m2, m3} {
		got, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
	}
}

func TestFullQueueDiscardsNewDroppableEvent(t *testing.T) {
	s := newSession(uuid.New(), 1, t0)
	require.True(t, s.enqueue(message(uuid.New(), t0, "kept")))
	assert.False(t, s.enqueue(typingEvent()))
	assert.Empty(t, s.Reason())
	assert.Equal(t, 1, s.Pending())
}

func TestFullQueueOfMessagesDisconnects(t *testing.T) {
	s := newSession(uuid.New(), 2, t0)
	require.True(t, s.enqueue(message(uuid.New(), t0, "a")))
	require.True(t, s.enqueue(message(uuid.New(), t0, "b")))

	assert.False(t, s.enqueue(message(uuid.New(), t0, "c")))
	assert.Equal(t, ReasonBackpressure, s.Reason())
	select {
	case <-s.Done():
	default:
		t.Fatal("session should be closed")
	}
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNextWaitsForEvent(t *testing.T) {
	s := newSession(uuid.New(), 4, t0)
	ev := message(uuid.New(), t0, "later")
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.enqueue(ev)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
}

func TestNextHonorsContext(t *testing.T) {
	s := newSession(uuid.New(), 4, t0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseKeepsFirstReason(t *testing.T) {
	s := newSession(uuid.New(), 4, t0)
	s.Close(ReasonWriteError)
	s.Close(ReasonShutdown)
	assert.Equal(t, ReasonWriteError, s.Reason())
	assert.False(t, s.enqueue(message(uuid.New(), t0, "x")))
}
