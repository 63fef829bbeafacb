package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/media"
	"chat-realtime/internal/models"
)

// ProfileDirectory is the external profile service.
type ProfileDirectory interface {
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
	SearchProfiles(ctx context.Context, query string, limit int) ([]uuid.UUID, error)
}

// profileResolver stitches profiles onto listings with one directory call per listing.
// Directory failures degrade to listings without profiles.
type profileResolver struct {
	dir   ProfileDirectory
	media media.Store
	log   *zap.Logger
}

func (r profileResolver) lookup(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]models.Profile {
	ids = uniqueIDs(ids)
	if r.dir == nil || len(ids) == 0 {
		return map[uuid.UUID]models.Profile{}
	}
	profiles, err := r.dir.GetProfiles(ctx, ids)
	if err != nil {
		r.log.Warn("profile lookup failed", zap.Int("ids", len(ids)), zap.Error(err))
		return map[uuid.UUID]models.Profile{}
	}
	r.resolveAvatars(ctx, profiles)
	return profiles
}

func (r profileResolver) resolveAvatars(ctx context.Context, profiles map[uuid.UUID]models.Profile) {
	if r.media == nil {
		return
	}
	for id, p := range profiles {
		if p.AvatarKey == "" {
			continue
		}
		url, err := r.media.URL(ctx, p.AvatarKey)
		if err != nil {
			r.log.Debug("avatar url failed", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		p.AvatarURL = url
		profiles[id] = p
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func profilesFor(ids []uuid.UUID, profiles map[uuid.UUID]models.Profile) []models.Profile {
	out := make([]models.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
