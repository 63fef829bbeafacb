package repositories

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/clock"
	"chat-realtime/internal/db/dbtest"
	"chat-realtime/internal/models"
)

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) Publish(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t models.EventType) []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

type fixture struct {
	chats    *ChatRepo
	messages *MessageRepo
	friends  *FriendRepo
	events   *eventLog
	clock    *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.New(t)
	locks := NewLocks()
	events := &eventLog{}
	clk := clock.Fake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		chats:    NewChatRepo(conn, locks, events, clk),
		messages: NewMessageRepo(conn, locks, events, clk),
		friends:  NewFriendRepo(conn, locks, events, clk),
		events:   events,
		clock:    clk,
	}
}

func strPtr(s string) *string { return &s }

func newUsers(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}
