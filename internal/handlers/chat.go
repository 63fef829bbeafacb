package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

// ChatHandler manages chat and message endpoints.
type ChatHandler struct {
	chats ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

// CreateChat creates a group chat or returns the direct chat with the other user.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		Kind           models.ChatKind `json:"kind" binding:"required"`
		Name           *string         `json:"name"`
		ParticipantIDs []uuid.UUID     `json:"participant_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	view, created, err := h.chats.CreateChat(c.Request.Context(), currentUser(c), req.Kind, req.Name, req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, view)
}

// ListChats returns the chats of the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListChats(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat returns one chat with its participants.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	view, err := h.chats.GetChat(c.Request.Context(), chatID, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AddParticipants adds users to a group chat.
func (h *ChatHandler) AddParticipants(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	var req struct {
		UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	view, err := h.chats.AddParticipants(c.Request.Context(), chatID, currentUser(c), req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// LeaveChat removes the caller from a group chat.
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	if err := h.chats.LeaveChat(c.Request.Context(), chatID, currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns one page of chat history.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	page, err := h.chats.ListMessages(c.Request.Context(), chatID, currentUser(c), limit, c.Query("cursor"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// PostMessage stores a message. A repeated Idempotency-Key returns the stored message.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	var req struct {
		Content string             `json:"content"`
		Kind    models.MessageKind `json:"kind"`
		ReplyTo *uuid.UUID         `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	in := models.NewMessage{
		ChatID:         chatID,
		SenderID:       currentUser(c),
		Content:        req.Content,
		Kind:           req.Kind,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	}
	if req.ReplyTo != nil {
		in.ReplyTo = uuid.NullUUID{UUID: *req.ReplyTo, Valid: true}
	}

	msg, created, err := h.chats.SendMessage(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, msg)
}

// EditMessage replaces the content of the caller's message.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	chatID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, err := h.chats.EditMessage(c.Request.Context(), chatID, messageID, currentUser(c), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage tombstones the caller's message for everyone.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	chatID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}
	msg, err := h.chats.DeleteMessage(c.Request.Context(), chatID, messageID, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead advances the caller's read marker.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	var req struct {
		MessageID uuid.UUID `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	state, err := h.chats.MarkRead(c.Request.Context(), chatID, currentUser(c), req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// SetTyping starts or stops the caller's typing indicator.
func (h *ChatHandler) SetTyping(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return
	}
	var req struct {
		IsTyping *bool `json:"is_typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.chats.SetTyping(c.Request.Context(), chatID, currentUser(c), *req.IsTyping); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
