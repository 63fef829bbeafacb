package models

import "github.com/google/uuid"

// Profile is the public profile of a user as served by the profile directory.
type Profile struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	AvatarKey string    `json:"-"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
}

// UserSearchResult is one row of SearchUsers.
type UserSearchResult struct {
	Profile
	Relation RelationState `json:"relation"`
}
