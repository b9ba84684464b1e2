package authfront

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/room-sync/fabric/internal/v1/types"
)

// AdminAPIKeyHeader is the header every admin endpoint requires (§6).
const AdminAPIKeyHeader = "x-reflect-auth-api-key"

// RequireAdminKey rejects any request missing or mismatching
// AdminAPIKeyHeader with 401, before the handler runs.
func (a *AuthFront) RequireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminAPIKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.AdminAPIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid admin api key"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes wires AuthFront's WebSocket and admin HTTP surface onto r.
// Admin routes are additionally scoped per-endpoint-class by RateLimit when
// set (MiddlewareForEndpoint("invalidate"/"rooms")).
func (a *AuthFront) RegisterRoutes(r gin.IRouter) {
	r.GET("/connect", a.ServeWs)

	admin := r.Group("/", a.RequireAdminKey())

	invalidateGroup := admin.Group("/api/auth/v0")
	if a.RateLimit != nil {
		invalidateGroup.Use(a.RateLimit.MiddlewareForEndpoint("invalidate"))
	}
	invalidateGroup.POST("/invalidateForUser", a.handleInvalidateForUser)
	invalidateGroup.POST("/invalidateForRoom", a.handleInvalidateForRoom)
	invalidateGroup.POST("/invalidateAll", a.handleInvalidateAll)

	roomsGroup := admin.Group("/api/room/v0")
	if a.RateLimit != nil {
		roomsGroup.Use(a.RateLimit.MiddlewareForEndpoint("rooms"))
	}
	roomsGroup.POST("/room/:roomID/create", a.handleCreateRoom)
	roomsGroup.POST("/room/:roomID/delete", a.handleDeleteRoom)
	roomsGroup.GET("/room/:roomID/status", a.handleRoomStatus)
}

type invalidateForUserBody struct {
	UserID string `json:"userID" binding:"required"`
}

func (a *AuthFront) handleInvalidateForUser(c *gin.Context) {
	var body invalidateForUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userID is required"})
		return
	}
	if err := a.InvalidateForUser(c.Request.Context(), types.UserIDType(body.UserID)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type invalidateForRoomBody struct {
	RoomID string `json:"roomID" binding:"required"`
}

func (a *AuthFront) handleInvalidateForRoom(c *gin.Context) {
	var body invalidateForRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomID is required"})
		return
	}
	if err := a.InvalidateForRoom(c.Request.Context(), types.RoomIDType(body.RoomID)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *AuthFront) handleInvalidateAll(c *gin.Context) {
	if err := a.InvalidateAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createRoomBody struct {
	ObjectID string `json:"objectID"`
}

func (a *AuthFront) handleCreateRoom(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomID"))
	var body createRoomBody
	_ = c.ShouldBindJSON(&body)

	rec, err := a.RoomRecords.Create(c.Request.Context(), roomID, body.ObjectID)
	if err != nil {
		if err == ErrRoomExists {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *AuthFront) handleDeleteRoom(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomID"))
	rec, err := a.RoomRecords.Delete(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err := a.InvalidateForRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.Rooms.Remove(roomID)
	c.JSON(http.StatusOK, rec)
}

func (a *AuthFront) handleRoomStatus(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomID"))
	rec, err := a.RoomRecords.Get(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if rec.Status == types.RoomStatusDeleted {
		c.JSON(http.StatusGone, rec)
		return
	}
	c.JSON(http.StatusOK, rec)
}
