package routes

import (
	"github.com/HSouheill/enrollment_backend/controllers"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/HSouheill/enrollment_backend/websocket"
	"github.com/labstack/echo/v4"
)

// Controllers bundles the handlers the API serves
type Controllers struct {
	Payments       *controllers.PaymentController
	Commissions    *controllers.CommissionController
	Reconciliation *controllers.ReconciliationController
}

// SetupRoutes configures all API routes by calling individual route registration functions
func SetupRoutes(e *echo.Echo, jwtSecret string, ctrl Controllers, hub *websocket.Hub, registry *services.SessionRegistry) {
	RegisterPaymentRoutes(e, jwtSecret, ctrl.Payments, hub, registry)
	RegisterAgentRoutes(e, jwtSecret, ctrl.Commissions)
	RegisterAdminRoutes(e, jwtSecret, ctrl.Commissions, ctrl.Reconciliation)
}
