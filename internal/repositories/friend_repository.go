package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
)

// MaxRequestMessageLength bounds the optional note on a friend request.
const MaxRequestMessageLength = 500

// Relation is how another user relates to the caller.
type Relation struct {
	State models.RelationState
	// BlockedByOther is set when the other user blocked the caller. The caller's State
	// does not reveal it.
	BlockedByOther bool
}

// RepairAction is the outcome of repairing a one-sided friendship row.
type RepairAction string

const (
	RepairNone      RepairAction = "none"
	RepairCompleted RepairAction = "completed"
	RepairReverted  RepairAction = "reverted"
)

// FriendRepository persists the friend graph: requests and directed friendship rows.
type FriendRepository interface {
	CreateRequest(ctx context.Context, senderID, receiverID uuid.UUID, message *string, cooldown time.Duration) (models.FriendRequest, error)
	AcceptRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error)
	DeclineRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error)
	CancelRequest(ctx context.Context, requestID, senderID uuid.UUID) (models.FriendRequest, error)
	RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error
	Block(ctx context.Context, userID, targetID uuid.UUID) error
	Unblock(ctx context.Context, userID, targetID uuid.UUID) error
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	Status(ctx context.Context, a, b uuid.UUID) (models.RelationState, error)
	Relations(ctx context.Context, userID uuid.UUID, others []uuid.UUID) (map[uuid.UUID]Relation, error)
	IsBlockedEither(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error)
	FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListRequests(ctx context.Context, userID uuid.UUID, direction models.RequestDirection) ([]models.FriendRequest, error)
	FindOneSided(ctx context.Context, limit int) ([]models.Friendship, error)
	RepairOneSided(ctx context.Context, f models.Friendship) (RepairAction, error)
}

// FriendRepo is a sqlx implementation of FriendRepository.
type FriendRepo struct {
	store
	// beforeAcceptCommit runs after both friendship rows are written and before commit.
	beforeAcceptCommit func() error
}

// NewFriendRepo constructs a FriendRepo.
func NewFriendRepo(db *sqlx.DB, locks *Locks, sink EventSink, clk clock.Clock) *FriendRepo {
	return &FriendRepo{store: newStore(db, locks, sink, clk)}
}

const requestColumns = `id, sender_id, receiver_id, status, message, created_at, updated_at`

// pairClause matches rows between a and b in either direction; it takes the args a, b, b, a.
const pairClause = `((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?))`

func (r *FriendRepo) withPair(ctx context.Context, a, b uuid.UUID, fn func(tx *sqlx.Tx) error) error {
	key := models.PairKey(a, b)
	unlock, err := r.locks.Pairs.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.lockPairTx(ctx, tx, key); err != nil {
			return fmt.Errorf("lock pair: %w", err)
		}
		return fn(tx)
	})
}

// CreateRequest records a pending request from sender to receiver. Both directions of both
// tables are checked inside the pair's transaction.
func (r *FriendRepo) CreateRequest(ctx context.Context, senderID, receiverID uuid.UUID, message *string, cooldown time.Duration) (models.FriendRequest, error) {
	if senderID == receiverID {
		return models.FriendRequest{}, fmt.Errorf("cannot befriend yourself: %w", apperrors.ErrInvalid)
	}
	if message != nil {
		trimmed := strings.TrimSpace(*message)
		if len(trimmed) > MaxRequestMessageLength {
			return models.FriendRequest{}, fmt.Errorf("request message too long: %w", apperrors.ErrInvalid)
		}
		if trimmed == "" {
			message = nil
		} else {
			message = &trimmed
		}
	}

	var req models.FriendRequest
	err := r.withPair(ctx, senderID, receiverID, func(tx *sqlx.Tx) error {
		var edges []models.Friendship
		if err := tx.SelectContext(ctx, &edges, tx.Rebind(`SELECT user_id, friend_id, status, created_at FROM friendships WHERE `+pairClause),
			senderID, receiverID, receiverID, senderID); err != nil {
			return fmt.Errorf("load friendships: %w", err)
		}
		for _, e := range edges {
			if e.Status == models.FriendshipBlocked {
				return fmt.Errorf("relation is blocked: %w", apperrors.ErrConflict)
			}
		}
		if len(edges) > 0 {
			return fmt.Errorf("already friends: %w", apperrors.ErrConflict)
		}

		var pending int
		if err := tx.GetContext(ctx, &pending, tx.Rebind(`SELECT COUNT(*) FROM friend_requests WHERE pair_key = ? AND status = ?`),
			models.PairKey(senderID, receiverID), models.RequestPending); err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("request already pending: %w", apperrors.ErrConflict)
		}

		now := r.now()
		if cooldown > 0 {
			var recent int
			if err := tx.GetContext(ctx, &recent, tx.Rebind(`SELECT COUNT(*) FROM friend_requests
                WHERE sender_id = ? AND receiver_id = ? AND status IN (?, ?) AND updated_at > ?`),
				senderID, receiverID, models.RequestDeclined, models.RequestCancelled, now.Add(-cooldown)); err != nil {
				return fmt.Errorf("check cooldown: %w", err)
			}
			if recent > 0 {
				return fmt.Errorf("request recently declined or cancelled: %w", apperrors.ErrRateLimited)
			}
		}

		req = models.FriendRequest{
			ID:         uuid.New(),
			SenderID:   senderID,
			ReceiverID: receiverID,
			Status:     models.RequestPending,
			Message:    message,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO friend_requests (id, sender_id, receiver_id, pair_key, status, message, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			req.ID, req.SenderID, req.ReceiverID, models.PairKey(senderID, receiverID), req.Status, req.Message, req.CreatedAt, req.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("request already pending: %w", apperrors.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.FriendRequest{}, err
	}
	r.publish(models.NewUserEvent(models.EventFriendRequestCreated, req.CreatedAt, req, req.SenderID, req.ReceiverID))
	return req, nil
}

// AcceptRequest flips a pending request to accepted and writes both friendship rows in one
// statement of the same transaction.
func (r *FriendRepo) AcceptRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error) {
	req, err := r.transition(ctx, requestID, receiverID, true, models.RequestAccepted, func(tx *sqlx.Tx, req models.FriendRequest, now time.Time) error {
		// Leftover one-sided rows are superseded by the pair written below.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM friendships WHERE status = ? AND `+pairClause),
			models.FriendshipAccepted, req.SenderID, req.ReceiverID, req.ReceiverID, req.SenderID); err != nil {
			return fmt.Errorf("clear stale friendships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO friendships (user_id, friend_id, status, created_at) VALUES (?, ?, ?, ?), (?, ?, ?, ?)`),
			req.SenderID, req.ReceiverID, models.FriendshipAccepted, now,
			req.ReceiverID, req.SenderID, models.FriendshipAccepted, now); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("friendship row exists: %w", apperrors.ErrConflict)
			}
			return fmt.Errorf("insert friendships: %w", err)
		}
		if r.beforeAcceptCommit != nil {
			return r.beforeAcceptCommit()
		}
		return nil
	})
	if err != nil {
		return models.FriendRequest{}, err
	}
	r.publish(
		models.NewUserEvent(models.EventFriendRequestUpdated, req.UpdatedAt, req, req.SenderID, req.ReceiverID),
		models.NewUserEvent(models.EventFriendshipCreated, req.UpdatedAt,
			models.FriendshipChange{UserID: req.SenderID, FriendID: req.ReceiverID, Status: models.FriendshipAccepted},
			req.SenderID, req.ReceiverID),
	)
	return req, nil
}

// DeclineRequest is the receiver's terminal refusal.
func (r *FriendRepo) DeclineRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error) {
	req, err := r.transition(ctx, requestID, receiverID, true, models.RequestDeclined, nil)
	if err != nil {
		return models.FriendRequest{}, err
	}
	r.publish(models.NewUserEvent(models.EventFriendRequestUpdated, req.UpdatedAt, req, req.SenderID, req.ReceiverID))
	return req, nil
}

// CancelRequest is the sender's withdrawal.
func (r *FriendRepo) CancelRequest(ctx context.Context, requestID, senderID uuid.UUID) (models.FriendRequest, error) {
	req, err := r.transition(ctx, requestID, senderID, false, models.RequestCancelled, nil)
	if err != nil {
		return models.FriendRequest{}, err
	}
	r.publish(models.NewUserEvent(models.EventFriendRequestUpdated, req.UpdatedAt, req, req.SenderID, req.ReceiverID))
	return req, nil
}

// transition moves a pending request to status. Users outside the request get NotFound; the
// other party, or a request that is no longer pending, gets Forbidden.
func (r *FriendRepo) transition(ctx context.Context, requestID, actorID uuid.UUID, actorIsReceiver bool, status models.FriendRequestStatus,
	extra func(tx *sqlx.Tx, req models.FriendRequest, now time.Time) error) (models.FriendRequest, error) {
	var req models.FriendRequest
	if err := r.db.GetContext(ctx, &req, r.db.Rebind(`SELECT `+requestColumns+` FROM friend_requests WHERE id = ?`), requestID); err != nil {
		return models.FriendRequest{}, apperrors.FromContext(notFound(err, "friend request"))
	}
	if actorID != req.SenderID && actorID != req.ReceiverID {
		return models.FriendRequest{}, fmt.Errorf("friend request: %w", apperrors.ErrNotFound)
	}

	err := r.withPair(ctx, req.SenderID, req.ReceiverID, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &req, tx.Rebind(`SELECT `+requestColumns+` FROM friend_requests WHERE id = ?`), requestID); err != nil {
			return notFound(err, "friend request")
		}
		owner, role := req.SenderID, "sender"
		if actorIsReceiver {
			owner, role = req.ReceiverID, "receiver"
		}
		if actorID != owner {
			return fmt.Errorf("only the %s can mark this request %s: %w", role, status, apperrors.ErrForbidden)
		}
		if req.Status != models.RequestPending {
			return fmt.Errorf("request is %s: %w", req.Status, apperrors.ErrForbidden)
		}

		now := r.now()
		if now.Before(req.UpdatedAt) {
			now = req.UpdatedAt
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ?`), status, now, req.ID); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		req.Status = status
		req.UpdatedAt = now
		if extra != nil {
			return extra(tx, req, now)
		}
		return nil
	})
	if err != nil {
		return models.FriendRequest{}, err
	}
	return req, nil
}

// RemoveFriend deletes both accepted rows of the pair.
func (r *FriendRepo) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	err := r.withPair(ctx, userID, friendID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM friendships WHERE status = ? AND `+pairClause),
			models.FriendshipAccepted, userID, friendID, friendID, userID)
		if err != nil {
			return fmt.Errorf("delete friendships: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("friendship: %w", apperrors.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(models.NewUserEvent(models.EventFriendshipRemoved, r.now(),
		models.FriendshipChange{UserID: userID, FriendID: friendID}, userID, friendID))
	return nil
}

// Block removes any friendship or pending request between the two users and records a
// blocked row from userID's side only. The target is not notified.
func (r *FriendRepo) Block(ctx context.Context, userID, targetID uuid.UUID) error {
	if userID == targetID {
		return fmt.Errorf("cannot block yourself: %w", apperrors.ErrInvalid)
	}
	var cancelled []models.FriendRequest
	now := r.now()
	err := r.withPair(ctx, userID, targetID, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM friendships WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ? AND status = ?)`),
			userID, targetID, targetID, userID, models.FriendshipAccepted); err != nil {
			return fmt.Errorf("clear friendships: %w", err)
		}
		if err := tx.SelectContext(ctx, &cancelled, tx.Rebind(`SELECT `+requestColumns+` FROM friend_requests WHERE pair_key = ? AND status = ?`),
			models.PairKey(userID, targetID), models.RequestPending); err != nil {
			return fmt.Errorf("load pending: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE friend_requests SET status = ?, updated_at = ? WHERE pair_key = ? AND status = ?`),
			models.RequestCancelled, now, models.PairKey(userID, targetID), models.RequestPending); err != nil {
			return fmt.Errorf("cancel pending: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO friendships (user_id, friend_id, status, created_at) VALUES (?, ?, ?, ?)`),
			userID, targetID, models.FriendshipBlocked, now); err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, req := range cancelled {
		req.Status = models.RequestCancelled
		req.UpdatedAt = now
		r.publish(models.NewUserEvent(models.EventFriendRequestUpdated, now, req, userID))
	}
	r.publish(models.NewUserEvent(models.EventFriendshipCreated, now,
		models.FriendshipChange{UserID: userID, FriendID: targetID, Status: models.FriendshipBlocked}, userID))
	return nil
}

// Unblock removes userID's block on targetID.
func (r *FriendRepo) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	err := r.withPair(ctx, userID, targetID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM friendships WHERE user_id = ? AND friend_id = ? AND status = ?`),
			userID, targetID, models.FriendshipBlocked)
		if err != nil {
			return fmt.Errorf("delete block: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("block: %w", apperrors.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(models.NewUserEvent(models.EventFriendshipRemoved, r.now(),
		models.FriendshipChange{UserID: userID, FriendID: targetID, Status: models.FriendshipBlocked}, userID))
	return nil
}

// AreFriends is true only when both accepted rows exist.
func (r *FriendRepo) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM friendships WHERE status = ? AND `+pairClause),
		models.FriendshipAccepted, a, b, b, a)
	if err != nil {
		return false, apperrors.FromContext(fmt.Errorf("check friendship: %w", err))
	}
	return n == 2, nil
}

// Status returns the relation of b as seen by a.
func (r *FriendRepo) Status(ctx context.Context, a, b uuid.UUID) (models.RelationState, error) {
	rel, err := r.Relations(ctx, a, []uuid.UUID{b})
	if err != nil {
		return "", err
	}
	return rel[b].State, nil
}

// Relations classifies each of others relative to userID with two queries.
func (r *FriendRepo) Relations(ctx context.Context, userID uuid.UUID, others []uuid.UUID) (map[uuid.UUID]Relation, error) {
	out := make(map[uuid.UUID]Relation, len(others))
	if len(others) == 0 {
		return out, nil
	}
	for _, id := range others {
		out[id] = Relation{State: models.RelationNone}
	}

	q, args, err := sqlx.In(`SELECT user_id, friend_id, status, created_at FROM friendships
        WHERE (user_id = ? AND friend_id IN (?)) OR (friend_id = ? AND user_id IN (?))`, userID, others, userID, others)
	if err != nil {
		return nil, fmt.Errorf("build relation query: %w", err)
	}
	var edges []models.Friendship
	if err := r.db.SelectContext(ctx, &edges, r.db.Rebind(q), args...); err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("load relations: %w", err))
	}

	q, args, err = sqlx.In(`SELECT `+requestColumns+` FROM friend_requests
        WHERE status = ? AND ((sender_id = ? AND receiver_id IN (?)) OR (receiver_id = ? AND sender_id IN (?)))`,
		models.RequestPending, userID, others, userID, others)
	if err != nil {
		return nil, fmt.Errorf("build request query: %w", err)
	}
	var pending []models.FriendRequest
	if err := r.db.SelectContext(ctx, &pending, r.db.Rebind(q), args...); err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("load pending requests: %w", err))
	}

	accepted := make(map[uuid.UUID]int)
	blocked := make(map[uuid.UUID]bool)
	blockedBy := make(map[uuid.UUID]bool)
	for _, e := range edges {
		other, outgoing := e.FriendID, true
		if e.UserID != userID {
			other, outgoing = e.UserID, false
		}
		switch {
		case e.Status == models.FriendshipAccepted:
			accepted[other]++
		case outgoing:
			blocked[other] = true
		default:
			blockedBy[other] = true
		}
	}

	for _, req := range pending {
		if req.SenderID == userID {
			out[req.ReceiverID] = Relation{State: models.RelationPendingSent}
		} else {
			out[req.SenderID] = Relation{State: models.RelationPendingReceived}
		}
	}
	for id, n := range accepted {
		if n == 2 {
			out[id] = Relation{State: models.RelationFriends}
		}
	}
	for id := range blocked {
		out[id] = Relation{State: models.RelationBlocked}
	}
	for id := range blockedBy {
		rel := out[id]
		rel.BlockedByOther = true
		out[id] = rel
	}
	return out, nil
}

// IsBlockedEither reports whether either user has blocked the other.
func (r *FriendRepo) IsBlockedEither(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM friendships WHERE status = ? AND `+pairClause),
		models.FriendshipBlocked, a, b, b, a)
	if err != nil {
		return false, apperrors.FromContext(fmt.Errorf("check block: %w", err))
	}
	return n > 0, nil
}

// ListFriends returns userID's accepted friendships whose reverse row also exists.
func (r *FriendRepo) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error) {
	friends := []models.Friendship{}
	err := r.db.SelectContext(ctx, &friends, r.db.Rebind(`SELECT f.user_id, f.friend_id, f.status, f.created_at
        FROM friendships f
        INNER JOIN friendships rev ON rev.user_id = f.friend_id AND rev.friend_id = f.user_id AND rev.status = f.status
        WHERE f.user_id = ? AND f.status = ?
        ORDER BY f.created_at DESC, f.friend_id`), userID, models.FriendshipAccepted)
	if err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("list friends: %w", err))
	}
	return friends, nil
}

// FriendIDs returns users with an accepted row toward or from userID.
func (r *FriendRepo) FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`SELECT friend_id FROM friendships WHERE user_id = ? AND status = ?
        UNION
        SELECT user_id FROM friendships WHERE friend_id = ? AND status = ?`),
		userID, models.FriendshipAccepted, userID, models.FriendshipAccepted)
	if err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("list friend ids: %w", err))
	}
	return ids, nil
}

// ListRequests returns pending requests received by or sent by userID, newest first.
func (r *FriendRepo) ListRequests(ctx context.Context, userID uuid.UUID, direction models.RequestDirection) ([]models.FriendRequest, error) {
	column := "receiver_id"
	switch direction {
	case models.DirectionIncoming:
	case models.DirectionOutgoing:
		column = "sender_id"
	default:
		return nil, fmt.Errorf("direction %q: %w", direction, apperrors.ErrInvalid)
	}
	requests := []models.FriendRequest{}
	err := r.db.SelectContext(ctx, &requests, r.db.Rebind(`SELECT `+requestColumns+` FROM friend_requests
        WHERE `+column+` = ? AND status = ? ORDER BY created_at DESC, id`), userID, models.RequestPending)
	if err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("list requests: %w", err))
	}
	return requests, nil
}

// FindOneSided returns accepted rows whose reverse accepted row is missing.
func (r *FriendRepo) FindOneSided(ctx context.Context, limit int) ([]models.Friendship, error) {
	var rows []models.Friendship
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT f.user_id, f.friend_id, f.status, f.created_at
        FROM friendships f
        LEFT JOIN friendships rev ON rev.user_id = f.friend_id AND rev.friend_id = f.user_id AND rev.status = ?
        WHERE f.status = ? AND rev.user_id IS NULL
        ORDER BY f.created_at
        LIMIT ?`), models.FriendshipAccepted, models.FriendshipAccepted, limit)
	if err != nil {
		return nil, apperrors.FromContext(fmt.Errorf("find one-sided friendships: %w", err))
	}
	return rows, nil
}

// RepairOneSided completes f when an accepted request backs it and nothing occupies the
// reverse slot; otherwise it deletes f.
func (r *FriendRepo) RepairOneSided(ctx context.Context, f models.Friendship) (RepairAction, error) {
	action := RepairNone
	err := r.withPair(ctx, f.UserID, f.FriendID, func(tx *sqlx.Tx) error {
		var edges []models.Friendship
		if err := tx.SelectContext(ctx, &edges, tx.Rebind(`SELECT user_id, friend_id, status, created_at FROM friendships WHERE `+pairClause),
			f.UserID, f.FriendID, f.FriendID, f.UserID); err != nil {
			return fmt.Errorf("load pair: %w", err)
		}
		var forward, reverse *models.Friendship
		for i := range edges {
			if edges[i].UserID == f.UserID {
				forward = &edges[i]
			} else {
				reverse = &edges[i]
			}
		}
		if forward == nil || forward.Status != models.FriendshipAccepted {
			return nil
		}
		if reverse != nil && reverse.Status == models.FriendshipAccepted {
			return nil
		}

		var backed int
		if err := tx.GetContext(ctx, &backed, tx.Rebind(`SELECT COUNT(*) FROM friend_requests WHERE pair_key = ? AND status = ?`),
			models.PairKey(f.UserID, f.FriendID), models.RequestAccepted); err != nil {
			return fmt.Errorf("find accepted request: %w", err)
		}
		if backed > 0 && reverse == nil {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO friendships (user_id, friend_id, status, created_at) VALUES (?, ?, ?, ?)`),
				f.FriendID, f.UserID, models.FriendshipAccepted, forward.CreatedAt); err != nil {
				return fmt.Errorf("complete friendship: %w", err)
			}
			action = RepairCompleted
			return nil
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM friendships WHERE user_id = ? AND friend_id = ? AND status = ?`),
			f.UserID, f.FriendID, models.FriendshipAccepted); err != nil {
			return fmt.Errorf("revert friendship: %w", err)
		}
		action = RepairReverted
		return nil
	})
	if err != nil {
		return RepairNone, err
	}

	change := models.FriendshipChange{UserID: f.UserID, FriendID: f.FriendID, Status: models.FriendshipAccepted}
	switch action {
	case RepairCompleted:
		r.publish(models.NewUserEvent(models.EventFriendshipCreated, r.now(), change, f.UserID, f.FriendID))
	case RepairReverted:
		r.publish(models.NewUserEvent(models.EventFriendshipRemoved, r.now(), change, f.UserID, f.FriendID))
	}
	return action, nil
}
