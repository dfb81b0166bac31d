package routes

import (
	"github.com/HSouheill/enrollment_backend/controllers"
	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/HSouheill/enrollment_backend/websocket"
	"github.com/labstack/echo/v4"
)

// RegisterPaymentRoutes sets up the public checkout routes. A bearer token is
// optional here; when present it identifies the operator.
func RegisterPaymentRoutes(e *echo.Echo, jwtSecret string, pc *controllers.PaymentController, hub *websocket.Hub, registry *services.SessionRegistry) {
	payments := e.Group("/api/payments")
	payments.Use(middleware.OptionalJWT(jwtSecret))

	// Session routes
	payments.POST("/sessions", pc.CreateSession)
	payments.GET("/sessions/:id", pc.GetSession)
	payments.GET("/sessions/:id/checkout-form", pc.GetCheckoutForm)
	payments.GET("/sessions/:id/ws", func(c echo.Context) error {
		return websocket.HandleSessionWebSocket(c, hub, registry)
	})

	// Browser hooks of the hosted checkout page
	payments.POST("/sessions/:id/callback/success", pc.HandleSuccessCallback)
	payments.POST("/sessions/:id/callback/failure", pc.HandleFailureCallback)

	payments.POST("/complete", pc.Complete)
	payments.POST("/record-failure", pc.RecordFailure)
}
