package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/repositories"
)

// MessageHandler serves message history and the reconnect backlog. The
// realtime submit path lives on the websocket; this surface is read-only.
type MessageHandler struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(rooms repositories.RoomRepository, messages repositories.MessageRepository) *MessageHandler {
	return &MessageHandler{rooms: rooms, messages: messages}
}

// GetRoomMessages handles GET /rooms/:room_id/messages?since=N. Messages
// come back in seq order joined with the caller's delivery status, so a
// reconnecting client can resume from its last seen message id.
func (h *MessageHandler) GetRoomMessages(c *gin.Context) {
	roomID, ok := paramID(c, "room_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		since = parsed
	}

	userID := authedUserID(c)
	member, err := h.rooms.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	entries, err := h.messages.ListBacklogSince(c.Request.Context(), roomID, userID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": entries})
}
