package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.TypingIndicator
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev.Payload.(models.TypingIndicator))
	r.mu.Unlock()
}

func (r *recorder) flags() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.IsTyping
	}
	return out
}

const ttl = 1500 * time.Millisecond

func newCoalescer() (*Coalescer, *clock.FakeClock, *recorder) {
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	return NewCoalescer(ttl, clk, rec, nil), clk, rec
}

func TestSingleKeystrokeExpiresOnce(t *testing.T) {
	c, clk, rec := newCoalescer()
	user, chat := uuid.New(), uuid.New()

	c.Start(user, chat)
	assert.Equal(t, []bool{true}, rec.flags())

	clk.Advance(ttl)
	assert.Equal(t, []bool{true, false}, rec.flags())

	clk.Advance(10 * ttl)
	assert.Equal(t, []bool{true, false}, rec.flags())
	assert.Zero(t, c.Len())
}

func TestBurstEmitsOneStartAndOneStop(t *testing.T) {
	c, clk, rec := newCoalescer()
	user, chat := uuid.New(), uuid.New()

	for i := 0; i < 20; i++ {
		c.Start(user, chat)
		clk.Advance(ttl / 2)
	}
	assert.Equal(t, []bool{true}, rec.flags())
	assert.Equal(t, 1, clk.Pending(), "only one timer may be live per key")

	clk.Advance(ttl/2 - time.Millisecond)
	assert.Equal(t, []bool{true}, rec.flags())

	clk.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.flags())

	require.Len(t, rec.events, 2)
	assert.Equal(t, chat, rec.events[1].ChatID)
	assert.True(t, rec.events[1].Timestamp.After(rec.events[0].Timestamp))
}

func TestStopClearsImmediately(t *testing.T) {
	c, clk, rec := newCoalescer()
	user, chat := uuid.New(), uuid.New()

	c.Start(user, chat)
	assert.True(t, c.Stop(user, chat))
	assert.False(t, c.Stop(user, chat))
	assert.False(t, c.Typing(user, chat))

	clk.Advance(ttl)
	assert.Equal(t, []bool{true, false}, rec.flags())
}

func TestExpireUserClearsAllChats(t *testing.T) {
	c, clk, rec := newCoalescer()
	user, other := uuid.New(), uuid.New()
	chats := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, chat := range chats {
		c.Start(user, chat)
	}
	c.Start(other, chats[0])

	assert.Equal(t, 3, c.ExpireUser(user))
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Typing(other, chats[0]))

	clk.Advance(ttl)
	falses := 0
	for _, f := range rec.flags() {
		if !f {
			falses++
		}
	}
	assert.Equal(t, 4, falses)
	assert.Zero(t, c.ExpireUser(user))
}

func TestKeysAreIndependent(t *testing.T) {
	c, clk, rec := newCoalescer()
	a, b, chat := uuid.New(), uuid.New(), uuid.New()

	c.Start(a, chat)
	clk.Advance(ttl / 2)
	c.Start(b, chat)
	clk.Advance(ttl / 2)

	assert.False(t, c.Typing(a, chat))
	assert.True(t, c.Typing(b, chat))
	assert.Equal(t, []bool{true, true, false}, rec.flags())
}
