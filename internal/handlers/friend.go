package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

// FriendHandler manages friend requests, friendships and blocks.
type FriendHandler struct {
	friends FriendService
}

// NewFriendHandler builds a FriendHandler.
func NewFriendHandler(friends FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

// SendRequest creates a friend request from the caller.
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req struct {
		ReceiverID uuid.UUID `json:"receiver_id" binding:"required"`
		Message    *string   `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	fr, err := h.friends.SendRequest(c.Request.Context(), currentUser(c), req.ReceiverID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fr)
}

// ListRequests returns pending requests. direction defaults to incoming.
func (h *FriendHandler) ListRequests(c *gin.Context) {
	direction := models.RequestDirection(c.DefaultQuery("direction", string(models.DirectionIncoming)))
	if direction != models.DirectionIncoming && direction != models.DirectionOutgoing {
		badRequest(c, "direction must be incoming or outgoing")
		return
	}

	reqs, err := h.friends.ListRequests(c.Request.Context(), currentUser(c), direction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// AcceptRequest accepts a request addressed to the caller.
func (h *FriendHandler) AcceptRequest(c *gin.Context) {
	h.transition(c, h.friends.AcceptRequest)
}

// DeclineRequest declines a request addressed to the caller.
func (h *FriendHandler) DeclineRequest(c *gin.Context) {
	h.transition(c, h.friends.DeclineRequest)
}

// CancelRequest withdraws a request sent by the caller.
func (h *FriendHandler) CancelRequest(c *gin.Context) {
	h.transition(c, h.friends.CancelRequest)
}

func (h *FriendHandler) transition(c *gin.Context, fn func(ctx context.Context, requestID, userID uuid.UUID) (models.FriendRequest, error)) {
	requestID, ok := uuidParam(c, "request_id")
	if !ok {
		return
	}
	fr, err := fn(c.Request.Context(), requestID, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

// ListFriends returns the caller's friends.
func (h *FriendHandler) ListFriends(c *gin.Context) {
	friends, err := h.friends.ListFriends(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// RemoveFriend ends a friendship.
func (h *FriendHandler) RemoveFriend(c *gin.Context) {
	h.pairCommand(c, h.friends.RemoveFriend)
}

// Block blocks another user.
func (h *FriendHandler) Block(c *gin.Context) {
	h.pairCommand(c, h.friends.Block)
}

// Unblock lifts a block.
func (h *FriendHandler) Unblock(c *gin.Context) {
	h.pairCommand(c, h.friends.Unblock)
}

func (h *FriendHandler) pairCommand(c *gin.Context, fn func(ctx context.Context, userID, otherID uuid.UUID) error) {
	otherID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), currentUser(c), otherID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Status returns the caller's relation to another user.
func (h *FriendHandler) Status(c *gin.Context) {
	otherID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}
	state, err := h.friends.Status(c.Request.Context(), currentUser(c), otherID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     otherID,
		"status":      state,
		"are_friends": state == models.RelationFriends,
	})
}
