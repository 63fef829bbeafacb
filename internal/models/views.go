package models

// ChatListing is a chat summary with the profiles of the other members.
type ChatListing struct {
	ChatSummary
	Members []Profile `json:"members"`
}

// MessageListing is a page of messages with the profiles of their senders.
type MessageListing struct {
	MessagePage
	Senders []Profile `json:"senders"`
}

// FriendView is an accepted friend with profile.
type FriendView struct {
	Friendship
	Profile *Profile `json:"profile,omitempty"`
}

// FriendRequestView is a pending request with the profile of the other party.
type FriendRequestView struct {
	FriendRequest
	Profile *Profile `json:"profile,omitempty"`
}
