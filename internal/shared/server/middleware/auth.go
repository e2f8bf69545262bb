package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/shared/auth"
	"routing-backend/internal/shared/server/respond"
)

const (
	userIDKey = "userId"
	teamIDKey = "teamId"
	roleKey   = "role"
)

// Auth validates bearer JWTs and stores the caller's team in context. Outside
// production an X-Team-Id header is accepted in place of a token.
func Auth(env string) gin.HandlerFunc {
	devIdentity := !isProduction(env)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			claims, err := auth.VerifyJWT(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			c.Set(userIDKey, claims.Subject)
			c.Set(teamIDKey, claims.Team)
			if claims.Role != "" {
				c.Set(roleKey, claims.Role)
			}
			c.Next()
			return
		}

		teamID := strings.TrimSpace(c.GetHeader("X-Team-Id"))
		if !devIdentity || teamID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}

		c.Set(teamIDKey, teamID)
		c.Set(userIDKey, "dev:"+teamID)
		c.Next()
	}
}

func isProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// TeamIDFromContext fetches the team ID set by the auth middleware.
func TeamIDFromContext(c *gin.Context) string {
	return stringFromContext(c, teamIDKey)
}

// UserIDFromContext fetches the caller subject set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	return stringFromContext(c, userIDKey)
}

// RoleFromContext fetches the role claim, if the token carried one.
func RoleFromContext(c *gin.Context) string {
	return stringFromContext(c, roleKey)
}

func stringFromContext(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
