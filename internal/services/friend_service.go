package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/media"
	"chat-realtime/internal/models"
	"chat-realtime/internal/ratelimit"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// FriendService serves the friend graph commands.
type FriendService struct {
	friends  repositories.FriendRepository
	profiles profileResolver
	pool     *Pool
	limiter  *ratelimit.KeyedLimiter
	cooldown time.Duration
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
}

// NewFriendService wires a FriendService. New requests are limited per sender by
// limiter, and a sender must wait cooldown after a declined or cancelled request to
// the same receiver.
func NewFriendService(friends repositories.FriendRepository, dir ProfileDirectory, store media.Store, pool *Pool,
	limiter *ratelimit.KeyedLimiter, cooldown time.Duration, audit *telemetry.AuditEmitter, log *zap.Logger) *FriendService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FriendService{
		friends:  friends,
		profiles: profileResolver{dir: dir, media: store, log: log},
		pool:     pool,
		limiter:  limiter,
		cooldown: cooldown,
		audit:    audit,
		log:      log,
	}
}

// SendRequest creates a pending request from senderID to receiverID.
func (s *FriendService) SendRequest(ctx context.Context, senderID, receiverID uuid.UUID, message *string) (models.FriendRequest, error) {
	if s.limiter != nil && !s.limiter.Allow(senderID) {
		return models.FriendRequest{}, fmt.Errorf("too many friend requests: %w", apperrors.ErrRateLimited)
	}
	req, err := run(ctx, s.pool, func(ctx context.Context) (models.FriendRequest, error) {
		return s.friends.CreateRequest(ctx, senderID, receiverID, message, s.cooldown)
	})
	if err != nil {
		return models.FriendRequest{}, err
	}
	s.audit.Command(ctx, "send_friend_request", requestID(ctx), senderID, map[string]any{"request_id": req.ID.String()})
	return req, nil
}

// AcceptRequest accepts a request addressed to receiverID.
func (s *FriendService) AcceptRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error) {
	return s.transition(ctx, "accept_friend_request", receiverID, requestID, s.friends.AcceptRequest)
}

// DeclineRequest declines a request addressed to receiverID.
func (s *FriendService) DeclineRequest(ctx context.Context, requestID, receiverID uuid.UUID) (models.FriendRequest, error) {
	return s.transition(ctx, "decline_friend_request", receiverID, requestID, s.friends.DeclineRequest)
}

// CancelRequest withdraws a request sent by senderID.
func (s *FriendService) CancelRequest(ctx context.Context, requestID, senderID uuid.UUID) (models.FriendRequest, error) {
	return s.transition(ctx, "cancel_friend_request", senderID, requestID, s.friends.CancelRequest)
}

func (s *FriendService) transition(ctx context.Context, action string, actorID, reqID uuid.UUID,
	fn func(ctx context.Context, requestID, userID uuid.UUID) (models.FriendRequest, error)) (models.FriendRequest, error) {
	req, err := run(ctx, s.pool, func(ctx context.Context) (models.FriendRequest, error) {
		return fn(ctx, reqID, actorID)
	})
	if err != nil {
		return models.FriendRequest{}, err
	}
	s.audit.Command(ctx, action, requestID(ctx), actorID, map[string]any{"request_id": reqID.String()})
	return req, nil
}

// RemoveFriend deletes the friendship in both directions.
func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	return s.pairCommand(ctx, "remove_friend", userID, friendID, s.friends.RemoveFriend)
}

// Block blocks targetID on behalf of userID.
func (s *FriendService) Block(ctx context.Context, userID, targetID uuid.UUID) error {
	return s.pairCommand(ctx, "block_user", userID, targetID, s.friends.Block)
}

// Unblock lifts userID's block on targetID.
func (s *FriendService) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	return s.pairCommand(ctx, "unblock_user", userID, targetID, s.friends.Unblock)
}

func (s *FriendService) pairCommand(ctx context.Context, action string, userID, otherID uuid.UUID, fn func(ctx context.Context, a, b uuid.UUID) error) error {
	if err := s.pool.Do(ctx, func(ctx context.Context) error { return fn(ctx, userID, otherID) }); err != nil {
		return err
	}
	s.audit.Command(ctx, action, requestID(ctx), userID, map[string]any{"target_id": otherID.String()})
	return nil
}

// Status returns the relation between userID and otherID from userID's side.
func (s *FriendService) Status(ctx context.Context, userID, otherID uuid.UUID) (models.RelationState, error) {
	return run(ctx, s.pool, func(ctx context.Context) (models.RelationState, error) {
		return s.friends.Status(ctx, userID, otherID)
	})
}

// AreFriends reports whether both accepted rows exist.
func (s *FriendService) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return run(ctx, s.pool, func(ctx context.Context) (bool, error) {
		return s.friends.AreFriends(ctx, a, b)
	})
}

// ListFriends returns the user's friends with profiles.
func (s *FriendService) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.FriendView, error) {
	rows, err := run(ctx, s.pool, func(ctx context.Context) ([]models.Friendship, error) {
		return s.friends.ListFriends(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, f := range rows {
		ids[i] = f.FriendID
	}
	profiles := s.profiles.lookup(ctx, ids)
	out := make([]models.FriendView, len(rows))
	for i, f := range rows {
		out[i] = models.FriendView{Friendship: f}
		if p, ok := profiles[f.FriendID]; ok {
			out[i].Profile = &p
		}
	}
	return out, nil
}

// ListRequests returns pending requests in one direction with the other party's profile.
func (s *FriendService) ListRequests(ctx context.Context, userID uuid.UUID, direction models.RequestDirection) ([]models.FriendRequestView, error) {
	reqs, err := run(ctx, s.pool, func(ctx context.Context) ([]models.FriendRequest, error) {
		return s.friends.ListRequests(ctx, userID, direction)
	})
	if err != nil {
		return nil, err
	}
	other := func(r models.FriendRequest) uuid.UUID {
		if r.SenderID == userID {
			return r.ReceiverID
		}
		return r.SenderID
	}
	ids := make([]uuid.UUID, len(reqs))
	for i, r := range reqs {
		ids[i] = other(r)
	}
	profiles := s.profiles.lookup(ctx, ids)
	out := make([]models.FriendRequestView, len(reqs))
	for i, r := range reqs {
		out[i] = models.FriendRequestView{FriendRequest: r}
		if p, ok := profiles[other(r)]; ok {
			out[i].Profile = &p
		}
	}
	return out, nil
}
