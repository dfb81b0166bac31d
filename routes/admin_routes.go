package routes

import (
	"github.com/HSouheill/enrollment_backend/controllers"
	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/labstack/echo/v4"
)

// RegisterAdminRoutes sets up the reconciliation and payout operations
func RegisterAdminRoutes(e *echo.Echo, jwtSecret string, cc *controllers.CommissionController, rc *controllers.ReconciliationController) {
	// Reconciliation is open to admins and to operators holding the permission
	reconciliation := e.Group("/api/admin/reconciliation")
	reconciliation.Use(middleware.JWTMiddleware(jwtSecret))
	reconciliation.Use(middleware.RequirePermission(services.PermissionReconcile))

	reconciliation.GET("", rc.GetReport)
	reconciliation.POST("/link-payment", rc.LinkPayment)
	reconciliation.POST("/reattribute", rc.Reattribute)

	admin := e.Group("/api/admin")
	admin.Use(middleware.JWTMiddleware(jwtSecret))
	admin.Use(middleware.RequireUserType("admin"))

	// Payouts and commissions
	admin.POST("/payouts/run", cc.RunPayouts)
	admin.POST("/payouts/recompute-eligible-dates", cc.RecomputeEligibleDates)
	admin.POST("/commissions/:id/activate", cc.ActivateCommission)
	admin.POST("/members/:id/cancel-commissions", cc.CancelMemberCommissions)
}
