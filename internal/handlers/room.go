package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// OnlineChecker is the registry surface the presence snapshot reads.
type OnlineChecker interface {
	IsOnline(userID int64) bool
}

// RoomHandler exposes the administrative room/membership surface. Mutations
// arrive here out-of-band from the realtime path and land in the same
// membership index the router reads.
type RoomHandler struct {
	rooms    repositories.RoomRepository
	users    repositories.UserRepository
	presence OnlineChecker
	lastSeen *presence.LastSeenStore
	audit    *telemetry.AuditEmitter
}

// NewRoomHandler constructs a RoomHandler. lastSeen may be nil; the presence
// snapshot then reads last-seen timestamps from the users table only.
func NewRoomHandler(rooms repositories.RoomRepository, users repositories.UserRepository, online OnlineChecker, lastSeen *presence.LastSeenStore, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{rooms: rooms, users: users, presence: online, lastSeen: lastSeen, audit: audit}
}

func (h *RoomHandler) emitAudit(c *gin.Context, level, text string) {
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), auditUserID(c))
}

// CreateRoom handles POST /rooms: a new group room with the caller as admin.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := authedUserID(c)

	var req struct {
		Name      string  `json:"name" binding:"required"`
		MemberIDs []int64 `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, id := range req.MemberIDs {
		exists, err := h.users.Exists(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate members"})
			return
		}
		if !exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown member"})
			return
		}
	}

	room, err := h.rooms.CreateGroupRoom(c.Request.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	h.emitAudit(c, "INFO", "room created")
	c.JSON(http.StatusCreated, gin.H{"room_id": room.ID})
}

// StartDirectRoom handles POST /rooms/direct: idempotent direct room
// between the caller and a peer. Re-requesting the same pair returns the
// existing room.
func (h *RoomHandler) StartDirectRoom(c *gin.Context) {
	userID := authedUserID(c)

	var req struct {
		PeerID int64 `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exists, err := h.users.Exists(c.Request.Context(), req.PeerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate peer"})
		return
	}
	if !exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown peer"})
		return
	}

	room, err := h.rooms.GetOrCreateDirectRoom(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfRoom) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": room.ID})
}

// ListRooms returns the rooms the caller belongs to.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.RoomsForUser(c.Request.Context(), authedUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// ListMembers returns the room's membership with roles. Members only.
func (h *RoomHandler) ListMembers(c *gin.Context) {
	roomID, ok := paramID(c, "room_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	if !h.requireMember(c, roomID) {
		return
	}

	members, err := h.rooms.Members(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load members"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddMember handles POST /rooms/:room_id/members. Admins only.
func (h *RoomHandler) AddMember(c *gin.Context) {
	roomID, ok := paramID(c, "room_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	if !h.requireAdmin(c, roomID) {
		return
	}

	var req struct {
		UserID int64       `json:"user_id" binding:"required"`
		Role   models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}
	if req.Role != models.RoleMember && req.Role != models.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	exists, err := h.users.Exists(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate user"})
		return
	}
	if !exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
		return
	}

	if err := h.rooms.AddMember(c.Request.Context(), roomID, req.UserID, req.Role); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not add member"})
		return
	}

	h.emitAudit(c, "INFO", "member added")
	c.Status(http.StatusNoContent)
}

// RemoveMember handles DELETE /rooms/:room_id/members/:user_id. Admins can
// remove anyone; members can remove themselves. Removing the room's last
// admin is rejected either way.
func (h *RoomHandler) RemoveMember(c *gin.Context) {
	roomID, ok := paramID(c, "room_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	targetID, ok := paramID(c, "user_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if targetID != authedUserID(c) {
		if !h.requireAdmin(c, roomID) {
			return
		}
	} else if !h.requireMember(c, roomID) {
		return
	}

	if err := h.rooms.RemoveMember(c.Request.Context(), roomID, targetID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrLastAdmin):
			c.JSON(http.StatusConflict, gin.H{"error": "room must keep at least one admin"})
		case errors.Is(err, repositories.ErrMemberNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		}
		return
	}

	h.emitAudit(c, "INFO", "member removed")
	c.Status(http.StatusNoContent)
}

// SetRole handles PATCH /rooms/:room_id/members/:user_id/role. Admins only;
// demoting the last admin is rejected.
func (h *RoomHandler) SetRole(c *gin.Context) {
	roomID, ok := paramID(c, "room_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	targetID, ok := paramID(c, "user_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if !h.requireAdmin(c, roomID) {
		return
	}

	var req struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != models.RoleMember && req.Role != models.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	if err := h.rooms.SetRole(c.Request.Context(), roomID, targetID, req.Role); err != nil {
		switch {
		case errors.Is(err, repositories.ErrLastAdmin):
			c.JSON(http.StatusConflict, gin.H{"error": "room must keep at least one admin"})
		case errors.Is(err, repositories.ErrMemberNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update role"})
		}
		return
	}

	h.emitAudit(c, "INFO", "member role changed")
	c.Status(http.StatusNoContent)
}

// RoomPresence returns a presence snapshot for the room's members.
func (h *RoomHandler) RoomPresence(c *gin.Context) {
	roomID, ok := paramID(c, "room_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	if !h.requireMember(c, roomID) {
		return
	}

	members, err := h.rooms.Members(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load members"})
		return
	}

	snapshot := make([]models.Presence, 0, len(members))
	for _, m := range members {
		if h.presence.IsOnline(m.UserID) {
			snapshot = append(snapshot, models.Presence{UserID: m.UserID, State: models.PresenceOnline})
			continue
		}
		snapshot = append(snapshot, models.Presence{
			UserID:   m.UserID,
			State:    models.PresenceOffline,
			LastSeen: h.lastSeenFor(c, m.UserID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"presence": snapshot})
}

// lastSeenFor resolves an offline member's last-seen timestamp, preferring
// the cache over the users table. Lookup failures leave the field unset.
func (h *RoomHandler) lastSeenFor(c *gin.Context, userID int64) *time.Time {
	if h.lastSeen != nil {
		if at, err := h.lastSeen.Get(c.Request.Context(), userID); err == nil && !at.IsZero() {
			return &at
		}
	}
	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		return nil
	}
	return user.LastSeenAt
}

func (h *RoomHandler) requireMember(c *gin.Context, roomID int64) bool {
	member, err := h.rooms.IsMember(c.Request.Context(), roomID, authedUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return false
	}
	return true
}

func (h *RoomHandler) requireAdmin(c *gin.Context, roomID int64) bool {
	role, err := h.rooms.Role(c.Request.Context(), roomID, authedUserID(c))
	if err != nil {
		if errors.Is(err, repositories.ErrMemberNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
			return false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return false
	}
	if role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return false
	}
	return true
}
