package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/services/health"
	"routing-backend/internal/shared/config"
	"routing-backend/internal/shared/metrics"
	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/server/respond"
)

// RouteRegistrar is implemented by every feature handler.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries the handlers mounted under /api/v1. APILimit, when set,
// runs after identity is resolved so limits are per team.
type RouterDeps struct {
	Config   config.Config
	Health   *health.Service
	APILimit gin.HandlerFunc
	Handlers []RouteRegistrar
}

// NewRouter constructs the Gin engine with middleware and routes registered.
// Health and metrics are served without identity.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(nil, "", "")
	}
	r.GET("/health", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(deps.Config.Env))
	if deps.APILimit != nil {
		api.Use(deps.APILimit)
	}
	registerMeRoutes(api)
	for _, h := range deps.Handlers {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
