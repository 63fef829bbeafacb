package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/clock"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/repositories"
)

const maxPresenceBatch = 200

// PresenceService exposes the presence tracker to clients.
type PresenceService struct {
	tracker *presence.Tracker
	friends repositories.FriendRepository
	pool    *Pool
	clock   clock.Clock
}

// NewPresenceService wires a PresenceService.
func NewPresenceService(tracker *presence.Tracker, friends repositories.FriendRepository, pool *Pool, clk clock.Clock) *PresenceService {
	return &PresenceService{tracker: tracker, friends: friends, pool: pool, clock: clk}
}

// SetStatus records a status chosen by the user.
func (s *PresenceService) SetStatus(_ context.Context, userID uuid.UUID, status models.PresenceStatus) (models.PresenceRecord, error) {
	return s.tracker.SetStatus(userID, status, s.clock.Now())
}

// Heartbeat extends the user's online window.
func (s *PresenceService) Heartbeat(_ context.Context, userID uuid.UUID) models.PresenceRecord {
	return s.tracker.Heartbeat(userID)
}

// Connected marks the user online when a session opens.
func (s *PresenceService) Connected(userID uuid.UUID) models.PresenceRecord {
	return s.tracker.Heartbeat(userID)
}

// Disconnected marks the user offline once their last session is gone.
func (s *PresenceService) Disconnected(userID uuid.UUID) models.PresenceRecord {
	return s.tracker.Disconnect(userID)
}

// Get returns presence for the requested users the caller may see: their friends and
// themself. Other ids are silently left out.
func (s *PresenceService) Get(ctx context.Context, callerID uuid.UUID, userIDs []uuid.UUID) ([]models.PresenceRecord, error) {
	userIDs = uniqueIDs(userIDs)
	if len(userIDs) > maxPresenceBatch {
		return nil, fmt.Errorf("at most %d users per request: %w", maxPresenceBatch, apperrors.ErrInvalid)
	}
	friends, err := run(ctx, s.pool, func(ctx context.Context) ([]uuid.UUID, error) {
		return s.friends.FriendIDs(ctx, callerID)
	})
	if err != nil {
		return nil, err
	}
	allowed := make(map[uuid.UUID]struct{}, len(friends)+1)
	allowed[callerID] = struct{}{}
	for _, id := range friends {
		allowed[id] = struct{}{}
	}
	visible := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := allowed[id]; ok {
			visible = append(visible, id)
		}
	}
	return s.tracker.Get(ctx, visible), nil
}
