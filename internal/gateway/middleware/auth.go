package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set after token validation.
const (
	ContextKeyUserID = "auth_user_id"
	ContextKeyEmail  = "auth_email"
	ContextKeyRole   = "auth_role"
)

// RouteRule matches a path prefix and an optional method set.
type RouteRule struct {
	PathPrefix string
	Methods    []string
}

func (r RouteRule) matches(method, path string) bool {
	if !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// AuthConfig configures the gateway's token validation.
type AuthConfig struct {
	JWTSecret string
	// PublicRoutes pass through without a token.
	PublicRoutes []RouteRule
	// AdminRoutes additionally require the admin role.
	AdminRoutes []RouteRule
}

// Auth validates HS256 bearer tokens and forwards the claims to the
// upstream as X-User-ID / X-User-Role headers. Matching public routes
// skip validation entirely.
func Auth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		path := c.Request.URL.Path

		// The upstreams trust identity headers, so never let a client
		// smuggle its own through.
		c.Request.Header.Del("X-User-ID")
		c.Request.Header.Del("X-User-Role")

		for _, rule := range cfg.PublicRoutes {
			if rule.matches(method, path) {
				c.Next()
				return
			}
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(c, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			unauthorized(c, "invalid or expired token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(c, "invalid token claims")
			return
		}
		userID, _ := claims["user_id"].(string)
		email, _ := claims["email"].(string)
		role, _ := claims["role"].(string)
		if userID == "" {
			unauthorized(c, "invalid token claims")
			return
		}

		for _, rule := range cfg.AdminRoutes {
			if rule.matches(method, path) && role != "admin" {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "FORBIDDEN",
						"message": "admin role required",
					},
				})
				return
			}
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyEmail, email)
		c.Set(ContextKeyRole, role)

		c.Request.Header.Set("X-User-ID", userID)
		c.Request.Header.Set("X-User-Role", role)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
