package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/observability"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// RequestID assigns a request id, echoes it in X-Request-ID and stores the outbound
// event headers in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		ctx := c.Request.Context()
		headers := observability.BuildHeaders(requestID, observability.TraceIDFromContext(ctx))
		c.Request = c.Request.WithContext(observability.WithHeaders(ctx, headers))
		c.Next()
	}
}
