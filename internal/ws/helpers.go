package ws

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/identity"
)

func newConnID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// tokenFromRequest reads the bearer token from Authorization or, for browsers that
// cannot set headers on upgrade requests, from ?token=.
func tokenFromRequest(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	return identity.ParseBearer(header)
}
