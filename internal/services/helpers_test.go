package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/db/dbtest"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/ratelimit"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/typing"
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

type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]models.Profile
	search   []uuid.UUID
	err      error
	calls    int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{profiles: make(map[uuid.UUID]models.Profile)}
}

func (d *fakeDirectory) add(id uuid.UUID, name, avatar string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[id] = models.Profile{UserID: id, Name: name, AvatarKey: avatar}
}

func (d *fakeDirectory) GetProfiles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[uuid.UUID]models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (d *fakeDirectory) SearchProfiles(_ context.Context, _ string, limit int) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.search) > limit {
		return d.search[:limit], nil
	}
	return d.search, nil
}

type prefixStore struct{}

func (prefixStore) URL(_ context.Context, key string) (string, error) {
	return "https://cdn.test/" + key, nil
}

type fixture struct {
	db       *sqlx.DB
	chats    *repositories.ChatRepo
	messages *repositories.MessageRepo
	friends  *repositories.FriendRepo
	events   *eventLog
	clock    *clock.FakeClock
	dir      *fakeDirectory
	typing   *typing.Coalescer
	tracker  *presence.Tracker

	chatSvc     *ChatService
	friendSvc   *FriendService
	userSvc     *UserService
	presenceSvc *PresenceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.New(t)
	locks := repositories.NewLocks()
	events := &eventLog{}
	clk := clock.Fake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		db:       conn,
		chats:    repositories.NewChatRepo(conn, locks, events, clk),
		messages: repositories.NewMessageRepo(conn, locks, events, clk),
		friends:  repositories.NewFriendRepo(conn, locks, events, clk),
		events:   events,
		clock:    clk,
		dir:      newFakeDirectory(),
	}
	f.typing = typing.NewCoalescer(3*time.Second, clk, events, nil)
	f.tracker = presence.NewTracker(time.Minute, clk, events, nil, nil)
	pool := NewPool(4, 5*time.Second)
	f.chatSvc = NewChatService(f.chats, f.messages, f.friends, f.typing, f.dir, prefixStore{}, pool, nil, nil)
	f.friendSvc = NewFriendService(f.friends, f.dir, prefixStore{}, pool, ratelimit.PerHour(3), time.Hour, nil, nil)
	f.userSvc = NewUserService(f.friends, f.dir, prefixStore{}, pool, nil)
	f.presenceSvc = NewPresenceService(f.tracker, f.friends, pool, clk)
	return f
}

func (f *fixture) befriend(t *testing.T, a, b uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	req, err := f.friends.CreateRequest(ctx, a, b, nil, 0)
	require.NoError(t, err)
	_, err = f.friends.AcceptRequest(ctx, req.ID, b)
	require.NoError(t, err)
}

func newUsers(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

var errDirectoryDown = apperrors.ErrUnavailable
