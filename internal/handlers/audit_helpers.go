package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if id := currentUser(c); id != uuid.Nil {
		value := id.String()
		return &value
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := uuid.Parse(header); err == nil {
			value := parsed.String()
			return &value
		}
	}

	return nil
}
