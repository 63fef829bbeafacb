package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// UserHandler serves user search.
type UserHandler struct {
	users UserService
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// Search finds users by name for ?q=.
func (h *UserHandler) Search(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	results, err := h.users.SearchUsers(c.Request.Context(), currentUser(c), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": results})
}
