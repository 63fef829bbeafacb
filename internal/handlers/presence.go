package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

// PresenceHandler serves presence reads and updates.
type PresenceHandler struct {
	presence PresenceService
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// SetPresence records the caller's chosen status.
func (h *PresenceHandler) SetPresence(c *gin.Context) {
	var req struct {
		Status models.PresenceStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, err := h.presence.SetStatus(c.Request.Context(), currentUser(c), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Heartbeat keeps the caller online.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, h.presence.Heartbeat(c.Request.Context(), currentUser(c)))
}

// GetPresence returns presence for ?user_ids=a,b. Users who are not friends of the
// caller are omitted.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	raw := c.Query("user_ids")
	if raw == "" {
		badRequest(c, "user_ids is required")
		return
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			badRequest(c, "invalid user id "+part)
			return
		}
		ids = append(ids, id)
	}

	recs, err := h.presence.Get(c.Request.Context(), currentUser(c), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": recs})
}
