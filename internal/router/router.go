// Package router fans committed events out to the sessions entitled to them.
//
// Events are sharded by scope (chat, presence subject, first recipient) onto a fixed
// set of dispatcher goroutines, so everything about one chat is delivered in commit
// order. Audiences are resolved at delivery time from a cache that Publish invalidates
// synchronously when membership or friendship changes.
package router

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// MemberSource lists chat participants.
type MemberSource interface {
	Members(ctx context.Context, chatID uuid.UUID) ([]models.ChatParticipant, error)
}

// FriendSource lists accepted friends of a user.
type FriendSource interface {
	FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Options tunes the router. Zero values fall back to defaults.
type Options struct {
	Shards       int
	ShardBuffer  int
	QueueSize    int
	ExportBuffer int
	CacheEntries int
	LoadTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 16
	}
	if o.ShardBuffer <= 0 {
		o.ShardBuffer = 1024
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ExportBuffer <= 0 {
		o.ExportBuffer = 1024
	}
	if o.CacheEntries <= 0 {
		o.CacheEntries = 10000
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 2 * time.Second
	}
	return o
}

// Router owns the registered sessions and the dispatch shards.
type Router struct {
	opts     Options
	members  MemberSource
	friends  FriendSource
	exporter observability.Publisher
	clock    clock.Clock
	log      *zap.Logger

	cache  *audienceCache
	shards []chan models.Event
	export chan models.Event

	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]*Session

	stopped  chan struct{}
	stopOnce sync.Once
}

// New builds a Router. exporter may be nil.
func New(opts Options, members MemberSource, friends FriendSource, exporter observability.Publisher, clk clock.Clock, log *zap.Logger) *Router {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	r := &Router{
		opts:     opts,
		members:  members,
		friends:  friends,
		exporter: exporter,
		clock:    clk,
		log:      log,
		cache:    newAudienceCache(opts.CacheEntries),
		shards:   make([]chan models.Event, opts.Shards),
		export:   make(chan models.Event, opts.ExportBuffer),
		sessions: make(map[uuid.UUID]map[uuid.UUID]*Session),
		stopped:  make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = make(chan models.Event, opts.ShardBuffer)
	}
	return r
}

// Run dispatches events until ctx is cancelled, then closes every session.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.shards {
		shard := r.shards[i]
		g.Go(func() error {
			r.dispatch(gctx, shard)
			return nil
		})
	}
	if r.exporter != nil {
		g.Go(func() error {
			r.runExport(gctx)
			return nil
		})
	}
	<-gctx.Done()
	r.stopOnce.Do(func() { close(r.stopped) })
	err := g.Wait()
	r.closeAll(ReasonShutdown)
	return err
}

// Publish accepts a committed event. Cache invalidation happens before it returns so
// any later event observes the new audience. Presence and typing are dropped when the
// shard is full; other events wait for room.
func (r *Router) Publish(ev models.Event) {
	r.invalidate(ev)

	shard := r.shards[r.shardFor(ev)]
	select {
	case shard <- ev:
	default:
		if ev.Type.Droppable() {
			observability.IncDrop(string(ev.Type), "shard_full")
			return
		}
		select {
		case shard <- ev:
		case <-r.stopped:
			return
		}
	}

	if r.exporter != nil {
		select {
		case r.export <- ev:
		default:
			observability.IncDrop(string(ev.Type), "export_full")
		}
	}
}

func (r *Router) invalidate(ev models.Event) {
	switch ev.Type {
	case models.EventChatUpdated:
		if ev.ChatID != nil {
			r.cache.invalidateChat(*ev.ChatID)
		}
	case models.EventFriendshipCreated, models.EventFriendshipRemoved:
		if change, ok := ev.Payload.(models.FriendshipChange); ok {
			r.cache.invalidateFriends(change.UserID, change.FriendID)
		}
	}
}

func (r *Router) shardFor(ev models.Event) int {
	var key uuid.UUID
	switch {
	case ev.ChatID != nil:
		key = *ev.ChatID
	case ev.Subject != nil:
		key = *ev.Subject
	case len(ev.Recipients) > 0:
		key = ev.Recipients[0]
	}
	h := fnv.New32a()
	_, _ = h.Write(key[:])
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Router) dispatch(ctx context.Context, shard <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-shard:
			r.deliver(ctx, ev)
		}
	}
}

func (r *Router) deliver(ctx context.Context, ev models.Event) {
	users := r.audience(ctx, ev)
	if len(users) == 0 {
		return
	}
	r.mu.RLock()
	targets := make([]*Session, 0, len(users))
	for _, userID := range users {
		for _, s := range r.sessions[userID] {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if s.enqueue(ev) {
			observability.IncDelivery(string(ev.Type))
		} else if s.Reason() == ReasonBackpressure {
			r.log.Warn("session closed by backpressure",
				zap.String("session_id", s.ID.String()),
				zap.String("user_id", s.UserID.String()),
				zap.String("event", string(ev.Type)))
		}
	}
}

// audience resolves the users entitled to ev.
func (r *Router) audience(ctx context.Context, ev models.Event) []uuid.UUID {
	ctx, cancel := context.WithTimeout(ctx, r.opts.LoadTimeout)
	defer cancel()

	seen := make(map[uuid.UUID]struct{})
	out := make([]uuid.UUID, 0, len(ev.Recipients))
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	switch {
	case ev.ChatID != nil:
		members, err := r.cache.chatMembers(ctx, *ev.ChatID, r.members.Members)
		if err != nil {
			r.loadFailed(ev, err)
			break
		}
		// Members who joined after a message was written never see it live.
		var cutoff *time.Time
		if msg, ok := ev.Payload.(models.Message); ok && ev.Type == models.EventMessageCreated {
			cutoff = &msg.CreatedAt
		}
		for _, m := range members {
			if cutoff != nil && m.JoinedAt.After(*cutoff) {
				continue
			}
			add(m.UserID)
		}
	case ev.Subject != nil:
		add(*ev.Subject)
		friends, err := r.cache.friendIDs(ctx, *ev.Subject, r.friends.FriendIDs)
		if err != nil {
			r.loadFailed(ev, err)
			break
		}
		for _, id := range friends {
			add(id)
		}
	}
	for _, id := range ev.Recipients {
		add(id)
	}
	return out
}

func (r *Router) loadFailed(ev models.Event, err error) {
	observability.IncDrop(string(ev.Type), "audience_error")
	r.log.Warn("resolve audience failed",
		zap.String("event_id", ev.ID.String()),
		zap.String("event", string(ev.Type)),
		zap.Error(err))
}

func (r *Router) runExport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.export:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.exporter.Publish(pubCtx, ExportRoutingKey(ev.Type), observability.EventEnvelope{
				EventType: "chat_events",
				EventName: string(ev.Type),
				Payload:   ev,
			})
			cancel()
			if err != nil {
				r.log.Debug("export event failed", zap.String("event", string(ev.Type)), zap.Error(err))
			}
		}
	}
}

// ExportRoutingKey is the broker routing key of an exported event.
func ExportRoutingKey(t models.EventType) string {
	return "chat.events." + string(t)
}

// Register creates a session for userID.
func (r *Router) Register(userID uuid.UUID) *Session {
	s := newSession(userID, r.opts.QueueSize, r.clock.Now())
	r.mu.Lock()
	byID, ok := r.sessions[userID]
	if !ok {
		byID = make(map[uuid.UUID]*Session)
		r.sessions[userID] = byID
	}
	byID[s.ID] = s
	r.mu.Unlock()
	return s
}

// Unregister removes s and closes it with reason. It reports whether s was the user's
// last session.
func (r *Router) Unregister(s *Session, reason string) bool {
	s.Close(reason)
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.sessions[s.UserID]
	if !ok {
		return false
	}
	delete(byID, s.ID)
	if len(byID) == 0 {
		delete(r.sessions, s.UserID)
		return true
	}
	return false
}

// SessionCount returns the number of open sessions of userID.
func (r *Router) SessionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// Sessions returns the number of open sessions on this node.
func (r *Router) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byID := range r.sessions {
		n += len(byID)
	}
	return n
}

func (r *Router) closeAll(reason string) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[uuid.UUID]map[uuid.UUID]*Session)
	r.mu.Unlock()
	for _, byID := range all {
		for _, s := range byID {
			s.Close(reason)
		}
	}
}
