package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/server/respond"
)

// registerMeRoutes attaches the /me endpoint.
func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

func meHandler(c *gin.Context) {
	teamID := middleware.TeamIDFromContext(c)
	if teamID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	response := gin.H{
		"teamId": teamID,
	}
	if userID := middleware.UserIDFromContext(c); userID != "" {
		response["userId"] = userID
	}
	if role := middleware.RoleFromContext(c); role != "" {
		response["role"] = role
	}

	respond.JSON(c, http.StatusOK, response)
}
