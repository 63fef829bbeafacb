package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/middleware"
)

// respondError writes err with the status of its class. Unclassified errors are not echoed.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
		_ = c.Error(err)
	}
	body := gin.H{"error": msg, "code": apperrors.Code(err)}
	if apperrors.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid"})
}

func currentUser(c *gin.Context) uuid.UUID {
	if val, ok := c.Get(middleware.UserIDKey); ok {
		if id, ok := val.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func parseIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	chatID, ok := uuidParam(c, "chat_id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	msgID, ok := uuidParam(c, "message_id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return chatID, msgID, true
}
