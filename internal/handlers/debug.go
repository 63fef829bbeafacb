package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/telemetry"
)

// SessionCounter reports live event stream sessions.
type SessionCounter interface {
	Sessions() int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, sessions SessionCounter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/sessions", func(c *gin.Context) {
		if sessions == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "router not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions.Sessions()})
	})
}
