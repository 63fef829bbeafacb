package models

import (
	"time"

	"github.com/google/uuid"
)

// FriendRequestStatus is the lifecycle state of a friend request.
type FriendRequestStatus string

const (
	RequestPending   FriendRequestStatus = "pending"
	RequestAccepted  FriendRequestStatus = "accepted"
	RequestDeclined  FriendRequestStatus = "declined"
	RequestCancelled FriendRequestStatus = "cancelled"
)

// FriendRequest is a request from Sender to Receiver.
type FriendRequest struct {
	ID         uuid.UUID           `db:"id" json:"id"`
	SenderID   uuid.UUID           `db:"sender_id" json:"sender_id"`
	ReceiverID uuid.UUID           `db:"receiver_id" json:"receiver_id"`
	Status     FriendRequestStatus `db:"status" json:"status"`
	Message    *string             `db:"message" json:"message,omitempty"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at" json:"updated_at"`
}

// FriendshipStatus is the state of a directed friendship row.
type FriendshipStatus string

const (
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is one directed edge. Accepted edges always exist in pairs.
type Friendship struct {
	UserID    uuid.UUID        `db:"user_id" json:"user_id"`
	FriendID  uuid.UUID        `db:"friend_id" json:"friend_id"`
	Status    FriendshipStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// RelationState is the relation between two users as seen by the first one.
type RelationState string

const (
	RelationNone            RelationState = "none"
	RelationPendingSent     RelationState = "pending_sent"
	RelationPendingReceived RelationState = "pending_received"
	RelationFriends         RelationState = "friends"
	RelationBlocked         RelationState = "blocked"
)

// RequestDirection filters friend request listings.
type RequestDirection string

const (
	DirectionIncoming RequestDirection = "incoming"
	DirectionOutgoing RequestDirection = "outgoing"
)

// PairKey returns the order-independent key of two users.
func PairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}
