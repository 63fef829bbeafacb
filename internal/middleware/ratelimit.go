package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/ratelimit"
)

// RateLimit rejects commands from users over their budget. It runs after AuthMiddleware.
func RateLimit(limiter *ratelimit.KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, ok := c.Get(UserIDKey)
		if !ok {
			c.Next()
			return
		}
		id, _ := userID.(uuid.UUID)
		if !limiter.Allow(id) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
