package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) statuses() []models.PresenceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PresenceStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Payload.(models.PresenceRecord).Status)
	}
	return out
}

type memoryMirror struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.PresenceRecord
}

func (m *memoryMirror) Store(_ context.Context, rec models.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = rec
	return nil
}

func (m *memoryMirror) Fetch(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]models.PresenceRecord{}
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

const ttl = 60 * time.Second

func newTracker() (*Tracker, *clock.FakeClock, *recorder, *memoryMirror) {
	clk := clock.Fake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	rec := &recorder{}
	mirror := &memoryMirror{records: map[uuid.UUID]models.PresenceRecord{}}
	return NewTracker(ttl, clk, rec, mirror, nil), clk, rec, mirror
}

func TestSetStatusPublishesChanges(t *testing.T) {
	tr, clk, events, mirror := newTracker()
	user := uuid.New()

	rec, err := tr.SetStatus(user, models.PresenceOnline, clk.Now())
	require.NoError(t, err)
	assert.True(t, rec.IsOnline)

	clk.Advance(time.Second)
	_, err = tr.SetStatus(user, models.PresenceOnline, clk.Now())
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = tr.SetStatus(user, models.PresenceAway, clk.Now())
	require.NoError(t, err)

	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline, models.PresenceAway}, events.statuses())
	assert.Equal(t, models.PresenceAway, mirror.records[user].Status)
}

func TestSetStatusLastWriterWins(t *testing.T) {
	tr, clk, events, _ := newTracker()
	user := uuid.New()
	now := clk.Now()

	_, err := tr.SetStatus(user, models.PresenceAway, now.Add(time.Second))
	require.NoError(t, err)
	rec, err := tr.SetStatus(user, models.PresenceOnline, now)
	require.NoError(t, err)

	assert.Equal(t, models.PresenceAway, rec.Status)
	assert.Equal(t, []models.PresenceStatus{models.PresenceAway}, events.statuses())
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	tr, clk, _, _ := newTracker()
	_, err := tr.SetStatus(uuid.New(), "busy", clk.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestOnlineExpiresExactlyOnce(t *testing.T) {
	tr, clk, events, mirror := newTracker()
	user := uuid.New()
	_, err := tr.SetStatus(user, models.PresenceOnline, clk.Now())
	require.NoError(t, err)

	clk.Advance(ttl - time.Millisecond)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline}, events.statuses())

	clk.Advance(time.Millisecond)
	clk.Advance(10 * ttl)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline, models.PresenceOffline}, events.statuses())
	assert.Equal(t, models.PresenceOffline, mirror.records[user].Status)
	assert.Zero(t, clk.Pending())
}

func TestHeartbeatKeepsUserOnline(t *testing.T) {
	tr, clk, events, _ := newTracker()
	user := uuid.New()

	tr.Heartbeat(user)
	for i := 0; i < 5; i++ {
		clk.Advance(25 * time.Second)
		tr.Heartbeat(user)
	}
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline}, events.statuses())
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(ttl)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline, models.PresenceOffline}, events.statuses())
}

func TestHeartbeatPreservesAway(t *testing.T) {
	tr, clk, _, _ := newTracker()
	user := uuid.New()
	_, err := tr.SetStatus(user, models.PresenceAway, clk.Now())
	require.NoError(t, err)

	clk.Advance(time.Second)
	rec := tr.Heartbeat(user)
	assert.Equal(t, models.PresenceAway, rec.Status)
}

func TestDisconnectStopsTimer(t *testing.T) {
	tr, clk, events, _ := newTracker()
	user := uuid.New()
	tr.Heartbeat(user)

	clk.Advance(time.Second)
	rec := tr.Disconnect(user)
	assert.False(t, rec.IsOnline)
	assert.Zero(t, clk.Pending())

	clk.Advance(2 * ttl)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline, models.PresenceOffline}, events.statuses())
}

func TestGetFallsBackToMirror(t *testing.T) {
	tr, clk, _, mirror := newTracker()
	local, remote, unknown := uuid.New(), uuid.New(), uuid.New()
	tr.Heartbeat(local)
	mirror.records[remote] = models.PresenceRecord{UserID: remote, Status: models.PresenceAway, IsOnline: true, LastSeen: clk.Now()}

	recs := tr.Get(context.Background(), []uuid.UUID{local, remote, unknown})
	require.Len(t, recs, 3)
	assert.Equal(t, models.PresenceOnline, recs[0].Status)
	assert.Equal(t, models.PresenceAway, recs[1].Status)
	assert.Equal(t, models.PresenceOffline, recs[2].Status)
	assert.Equal(t, unknown, recs[2].UserID)
}

func TestRedisMirrorKey(t *testing.T) {
	id := uuid.MustParse("6f1c1a9e-4d2b-4a1e-9f55-3b7f3f2c8d10")
	assert.Equal(t, "chat:presence:"+id.String(), NewRedisMirror(nil, "chat", ttl).key(id))
	assert.Equal(t, "presence:"+id.String(), NewRedisMirror(nil, "", ttl).key(id))
}
