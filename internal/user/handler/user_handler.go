package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/internal/user/dto"
	"github.com/eventix/eventix/internal/user/service"
	"github.com/eventix/eventix/pkg/response"
)

// userIDHeader carries the authenticated user id, set by the gateway
// after token validation.
const userIDHeader = "X-User-ID"

// UserHandler serves the authenticated user's profile and inbox.
type UserHandler struct {
	auth          service.AuthService
	notifications service.NotificationService
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(auth service.AuthService, notifications service.NotificationService) *UserHandler {
	return &UserHandler{auth: auth, notifications: notifications}
}

// RegisterRoutes mounts the handler on the router group.
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	{
		users.GET("/me", h.Me)
		users.GET("/me/notifications", h.Notifications)
	}
}

// Me handles GET /api/v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	user, err := h.auth.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, dto.FromDomainUser(user))
}

// Notifications handles GET /api/v1/users/me/notifications
func (h *UserHandler) Notifications(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	notifications, err := h.notifications.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	out := make([]*dto.NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, dto.FromDomainNotification(n))
	}
	response.Success(c, gin.H{"notifications": out})
}
