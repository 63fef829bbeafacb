package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Disconnect reasons reported by sessions.
const (
	ReasonClientClosed = "client_closed"
	ReasonBackpressure = "backpressure"
	ReasonShutdown     = "shutdown"
	ReasonWriteError   = "write_error"
)

// ErrSessionClosed is returned by Next once the session is closed.
var ErrSessionClosed = errors.New("session closed")

// Session is one connected client. Events are buffered in a bounded queue; the
// websocket writer drains it with Next.
type Session struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ConnectedAt time.Time

	mu       sync.Mutex
	queue    []models.Event
	capacity int
	closed   bool
	reason   string

	notify chan struct{}
	done   chan struct{}
}

func newSession(userID uuid.UUID, capacity int, now time.Time) *Session {
	if capacity <= 0 {
		capacity = 1
	}
	return &Session{
		ID:          uuid.New(),
		UserID:      userID,
		ConnectedAt: now,
		queue:       make([]models.Event, 0, capacity),
		capacity:    capacity,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// enqueue adds ev to the queue. When the queue is full the oldest droppable event
// makes room; if there is none, a droppable ev is discarded and a critical ev closes
// the session. It reports whether ev was queued.
func (s *Session) enqueue(ev models.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.capacity {
		if i := s.oldestDroppableLocked(); i >= 0 {
			observability.IncDrop(string(s.queue[i].Type), "queue_full")
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
		} else if ev.Type.Droppable() {
			s.mu.Unlock()
			observability.IncDrop(string(ev.Type), "queue_full")
			return false
		} else {
			s.closeLocked(ReasonBackpressure)
			s.mu.Unlock()
			observability.IncDrop(string(ev.Type), ReasonBackpressure)
			return false
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) oldestDroppableLocked() int {
	for i, ev := range s.queue {
		if ev.Type.Droppable() {
			return i
		}
	}
	return -1
}

// Next blocks until an event is available, the session closes or ctx ends.
func (s *Session) Next(ctx context.Context) (models.Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return models.Event{}, ErrSessionClosed
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = models.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued events.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the session. Only the first reason is kept.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(reason)
}

func (s *Session) closeLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	s.queue = nil
	close(s.done)
	observability.IncDisconnect(reason)
}

// Reason returns why the session closed, or "" while it is open.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
