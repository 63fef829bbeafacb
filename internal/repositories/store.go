package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/db"
	"chat-realtime/internal/models"
)

// EventSink receives events once the transaction that produced them has committed.
// Publish is called while the per-chat or per-pair lock is still held, so it must not block.
type EventSink interface {
	Publish(ev models.Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev models.Event)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev models.Event) { f(ev) }

type noopSink struct{}

func (noopSink) Publish(models.Event) {}

// KeyedMutex serializes work per key. Unrelated keys never contend.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free or ctx is done. The returned func releases the key.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			k.release(key, slot)
		}, nil
	case <-ctx.Done():
		k.release(key, slot)
		return nil, apperrors.FromContext(ctx.Err())
	}
}

func (k *KeyedMutex) release(key string, slot *keySlot) {
	k.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

// Locks holds the in-process serialization domains of the store.
type Locks struct {
	Chats *KeyedMutex
	Pairs *KeyedMutex
}

// NewLocks builds the chat and pair lock tables.
func NewLocks() *Locks {
	return &Locks{Chats: NewKeyedMutex(), Pairs: NewKeyedMutex()}
}

// store carries what every repository needs.
type store struct {
	db    *sqlx.DB
	locks *Locks
	sink  EventSink
	clock clock.Clock
}

func newStore(conn *sqlx.DB, locks *Locks, sink EventSink, clk clock.Clock) store {
	if locks == nil {
		locks = NewLocks()
	}
	if sink == nil {
		sink = noopSink{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return store{db: conn, locks: locks, sink: sink, clock: clk}
}

// now returns the store timestamp: UTC at microsecond precision, the finest both drivers keep.
func (s store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s store) postgres() bool {
	return db.IsPostgres(s.db)
}

// withTx runs fn in a transaction. fn must only use tx.
func (s store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.FromContext(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return apperrors.FromContext(err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.FromContext(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// lockPairTx takes the cross-process lock for a user pair. SQLite has a single writer already.
func (s store) lockPairTx(ctx context.Context, tx *sqlx.Tx, key string) error {
	if !s.postgres() {
		return nil
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func (s store) publish(events ...models.Event) {
	for _, ev := range events {
		s.sink.Publish(ev)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
