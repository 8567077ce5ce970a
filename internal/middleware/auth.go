package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/jwt"
	"portal-messaging/pkg/response"
)

const callerKey = "caller"

// AuthMiddleware validates the bearer token and stores the caller identity
// in the Gin context. Browsers cannot set headers on a WebSocket upgrade,
// so GET requests may carry the token in the access_token query parameter.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			response.Unauthorized(c, "Authorization header required")
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			return
		}

		role := domain.Role(claims.Role)
		if !role.Valid() {
			response.Forbidden(c, "Unknown portal role")
			return
		}

		c.Set(callerKey, domain.Caller{
			UserID:      claims.UserID,
			DisplayName: claims.DisplayName,
			Role:        role,
			Email:       claims.Email,
		})
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if c.Request.Method == "GET" {
		return c.Query("access_token")
	}
	return ""
}

// CallerFromContext returns the identity set by AuthMiddleware
func CallerFromContext(c *gin.Context) (domain.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return domain.Caller{}, false
	}
	caller, ok := v.(domain.Caller)
	return caller, ok
}

// SetCaller stores a caller directly; used by tests and internal routes
func SetCaller(c *gin.Context, caller domain.Caller) {
	c.Set(callerKey, caller)
	c.Set("user_id", caller.UserID)
	c.Set("role", string(caller.Role))
}
