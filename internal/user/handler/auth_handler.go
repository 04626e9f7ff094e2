package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/internal/user/dto"
	"github.com/eventix/eventix/internal/user/service"
	"github.com/eventix/eventix/pkg/response"
)

// AuthHandler serves registration, login and token refresh.
type AuthHandler struct {
	auth service.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes mounts the handler on the router group.
func (h *AuthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
	}
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.auth.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			response.Conflict(c, "USER_EXISTS", "an account with this email already exists")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, resp)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUserInactive):
			response.Unauthorized(c, "invalid credentials")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Success(c, resp)
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound),
			errors.Is(err, domain.ErrUserNotFound),
			errors.Is(err, domain.ErrUserInactive):
			response.Unauthorized(c, "invalid refresh token")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Success(c, resp)
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "logged_out"})
}
