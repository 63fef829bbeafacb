package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/media"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
	minQueryLength     = 2
)

// UserService searches the profile directory on behalf of a user.
type UserService struct {
	friends  repositories.FriendRepository
	dir      ProfileDirectory
	profiles profileResolver
	pool     *Pool
	log      *zap.Logger
}

// NewUserService wires a UserService. Without a directory, search is unavailable.
func NewUserService(friends repositories.FriendRepository, dir ProfileDirectory, store media.Store, pool *Pool, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{
		friends:  friends,
		dir:      dir,
		profiles: profileResolver{dir: dir, media: store, log: log},
		pool:     pool,
		log:      log,
	}
}

// SearchUsers returns matching users annotated with the caller's relation to them.
// Users who blocked the caller and the caller themself are left out.
func (s *UserService) SearchUsers(ctx context.Context, callerID uuid.UUID, query string, limit int) ([]models.UserSearchResult, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minQueryLength {
		return nil, fmt.Errorf("query must have at least %d characters: %w", minQueryLength, apperrors.ErrInvalid)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if s.dir == nil {
		return nil, fmt.Errorf("profile directory not configured: %w", apperrors.ErrUnavailable)
	}

	ids, err := s.dir.SearchProfiles(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	candidates := make([]uuid.UUID, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		if id != callerID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return []models.UserSearchResult{}, nil
	}

	relations, err := run(ctx, s.pool, func(ctx context.Context) (map[uuid.UUID]repositories.Relation, error) {
		return s.friends.Relations(ctx, callerID, candidates)
	})
	if err != nil {
		return nil, err
	}
	visible := candidates[:0]
	for _, id := range candidates {
		if !relations[id].BlockedByOther {
			visible = append(visible, id)
		}
	}

	profiles, err := s.dir.GetProfiles(ctx, visible)
	if err != nil {
		return nil, err
	}
	s.profiles.resolveAvatars(ctx, profiles)

	out := make([]models.UserSearchResult, 0, len(visible))
	for _, id := range visible {
		p, ok := profiles[id]
		if !ok {
			continue
		}
		state := relations[id].State
		if state == "" {
			state = models.RelationNone
		}
		out = append(out, models.UserSearchResult{Profile: p, Relation: state})
	}
	return out, nil
}
