package routes

import (
	"github.com/HSouheill/enrollment_backend/controllers"
	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterAgentRoutes sets up the routes agents use to follow their earnings
func RegisterAgentRoutes(e *echo.Echo, jwtSecret string, cc *controllers.CommissionController) {
	agents := e.Group("/api/agents")
	agents.Use(middleware.JWTMiddleware(jwtSecret))
	agents.Use(middleware.RequireUserType("agent"))

	agents.GET("/me/commissions", cc.GetMyCommissions)
	agents.GET("/me/payouts", cc.GetMyPayouts)
}
