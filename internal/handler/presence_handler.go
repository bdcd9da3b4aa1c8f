package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

type PresenceHandler interface {
	GetPresence(c *gin.Context)
}

type presenceHandler struct {
	presence repo.PresenceRepository
}

func NewPresenceHandler(presence repo.PresenceRepository) PresenceHandler {
	return &presenceHandler{presence: presence}
}

// GetPresence returns a user's presence record. Users with no record yet
// read as offline.
func (h *presenceHandler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	record, err := h.presence.GetPresence(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get presence"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"presence": record})
}
