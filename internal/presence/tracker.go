// Package presence tracks per-user availability with last-writer-wins updates and TTL expiry.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Publisher receives presence changes. It must not block.
type Publisher interface {
	Publish(ev models.Event)
}

// Mirror copies presence records to a store other nodes can read.
type Mirror interface {
	Store(ctx context.Context, rec models.PresenceRecord) error
	Fetch(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceRecord, error)
}

type entry struct {
	rec   models.PresenceRecord
	timer clock.Timer
	gen   uint64
}

// Tracker owns the authoritative presence row of every user seen by this node.
type Tracker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry

	ttl    time.Duration
	clock  clock.Clock
	pub    Publisher
	mirror Mirror
	log    *zap.Logger
}

// NewTracker builds a Tracker. mirror may be nil.
func NewTracker(ttl time.Duration, clk clock.Clock, pub Publisher, mirror Mirror, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		entries: make(map[uuid.UUID]*entry),
		ttl:     ttl,
		clock:   clk,
		pub:     pub,
		mirror:  mirror,
		log:     log,
	}
}

// SetStatus records status for userID as of at. Updates older than the current record are
// ignored. Online and Away expire to Offline unless refreshed within the TTL.
func (t *Tracker) SetStatus(userID uuid.UUID, status models.PresenceStatus, at time.Time) (models.PresenceRecord, error) {
	if !status.Valid() {
		return models.PresenceRecord{}, fmt.Errorf("presence status %q: %w", status, apperrors.ErrInvalid)
	}
	t.mu.Lock()
	rec, stored := t.applyLocked(userID, status, at)
	t.mu.Unlock()

	if stored {
		t.mirrorStore(rec)
	}
	return rec, nil
}

// Heartbeat refreshes the TTL. A user that was offline comes back online.
func (t *Tracker) Heartbeat(userID uuid.UUID) models.PresenceRecord {
	now := t.clock.Now()
	t.mu.Lock()
	status := models.PresenceOnline
	if e, ok := t.entries[userID]; ok && e.rec.Status == models.PresenceAway {
		status = models.PresenceAway
	}
	rec, _ := t.applyLocked(userID, status, now)
	t.mu.Unlock()

	t.mirrorStore(rec)
	return rec
}

// Disconnect marks the user offline. Callers invoke it when the last session closes.
func (t *Tracker) Disconnect(userID uuid.UUID) models.PresenceRecord {
	rec, _ := t.SetStatus(userID, models.PresenceOffline, t.clock.Now())
	return rec
}

// applyLocked stores the update, re-arms the TTL and publishes a status change.
// It reports false when the update lost to a newer record.
func (t *Tracker) applyLocked(userID uuid.UUID, status models.PresenceStatus, at time.Time) (models.PresenceRecord, bool) {
	e, ok := t.entries[userID]
	if !ok {
		e = &entry{rec: models.PresenceRecord{UserID: userID, Status: models.PresenceOffline}}
		t.entries[userID] = e
	} else if at.Before(e.rec.LastSeen) {
		return e.rec, false
	}

	changed := e.rec.Status != status
	e.rec.Status = status
	e.rec.IsOnline = status != models.PresenceOffline
	if at.After(e.rec.LastSeen) {
		e.rec.LastSeen = at
	}

	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if status != models.PresenceOffline {
		gen := e.gen
		e.timer = t.clock.AfterFunc(t.ttl, func() { t.expire(userID, gen) })
	}

	if changed {
		t.pub.Publish(models.NewPresenceEvent(e.rec))
	}
	return e.rec, true
}

func (t *Tracker) expire(userID uuid.UUID, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok || e.gen != gen || e.rec.Status == models.PresenceOffline {
		t.mu.Unlock()
		return
	}
	e.gen++
	e.timer = nil
	e.rec.Status = models.PresenceOffline
	e.rec.IsOnline = false
	if now := t.clock.Now(); now.After(e.rec.LastSeen) {
		e.rec.LastSeen = now
	}
	rec := e.rec
	t.pub.Publish(models.NewPresenceEvent(rec))
	t.mu.Unlock()

	observability.IncExpiry("presence")
	t.log.Debug("presence expired", zap.String("user_id", userID.String()))
	t.mirrorStore(rec)
}

// Get returns the records of userIDs. Users unknown to this node are looked up in the
// mirror and otherwise reported offline.
func (t *Tracker) Get(ctx context.Context, userIDs []uuid.UUID) []models.PresenceRecord {
	out := make([]models.PresenceRecord, len(userIDs))
	var missing []uuid.UUID

	t.mu.Lock()
	for i, id := range userIDs {
		if e, ok := t.entries[id]; ok {
			out[i] = e.rec
			continue
		}
		out[i] = models.PresenceRecord{UserID: id, Status: models.PresenceOffline}
		missing = append(missing, id)
	}
	t.mu.Unlock()

	if len(missing) == 0 || t.mirror == nil {
		return out
	}
	remote, err := t.mirror.Fetch(ctx, missing)
	if err != nil {
		t.log.Warn("presence mirror fetch failed", zap.Error(err))
		return out
	}
	for i, rec := range out {
		if r, ok := remote[rec.UserID]; ok {
			out[i] = r
		}
	}
	return out
}

// Len reports how many users have a record.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) mirrorStore(rec models.PresenceRecord) {
	if t.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.mirror.Store(ctx, rec); err != nil {
		t.log.Warn("presence mirror store failed", zap.String("user_id", rec.UserID.String()), zap.Error(err))
	}
}
