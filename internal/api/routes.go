package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cryptodash/autopilot/internal/api/handlers"
	"github.com/cryptodash/autopilot/internal/middleware"
)

// Handlers bundles the route handlers SetupRoutes wires up.
type Handlers struct {
	Health     *handlers.HealthHandler
	Auth       *handlers.AuthHandler
	Automation *handlers.AutomationHandler
	Positions  *handlers.PositionsHandler
}

// SetupRoutes registers the public and authenticated route groups.
func SetupRoutes(router *gin.Engine, auth *middleware.AuthMiddleware, h Handlers) {
	router.GET("/health", h.Health.Check)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/login", h.Auth.Login)

		// Automation control plane. Everything past login requires the
		// admin token.
		automation := v1.Group("/automation", auth.RequireAuth(), auth.RequireRole("admin"))
		{
			automation.POST("/start", h.Automation.Start)
			automation.POST("/stop", h.Automation.Stop)
			automation.POST("/emergency-stop", h.Automation.EmergencyStop)
			automation.GET("/status", h.Automation.Status)
			automation.GET("/queue", h.Automation.Queue)
			automation.GET("/performance", h.Automation.Performance)
			automation.GET("/progress", h.Automation.Progress)
			automation.POST("/test-signal/:symbol", h.Automation.TestSignal)
		}

		positions := v1.Group("/positions", auth.RequireAuth(), auth.RequireRole("admin"))
		{
			positions.GET("", h.Positions.ListActive)
			positions.GET("/history", h.Positions.History)
			positions.GET("/annotations", h.Positions.Annotations)
			positions.GET("/stats/:symbol", h.Positions.SymbolStats)
			positions.POST("/:id/close", h.Positions.Close)
		}
	}
}
