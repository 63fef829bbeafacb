package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/identity"
)

// UserIDKey is the gin context key holding the authenticated uuid.UUID.
const UserIDKey = "userID"

// AuthMiddleware validates the bearer token with the identity provider.
func AuthMiddleware(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := identity.ParseBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header", "code": "unauthorized"})
			return
		}

		userID, err := provider.ValidateToken(c.Request.Context(), token)
		if err != nil {
			status := apperrors.HTTPStatus(err)
			msg := "invalid token"
			if status != http.StatusUnauthorized {
				msg = "identity provider unavailable"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": apperrors.Code(err)})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}
