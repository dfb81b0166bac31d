// middleware/cors_middleware.go
package middleware

import (
	"log"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// corsMaxAge is how long browsers may cache a preflight, in seconds
const corsMaxAge = 86400

// GlobalCORS allows the enrollment front ends listed in origins. With no
// origins configured no CORS headers are sent, so browsers keep the API
// same-origin.
func GlobalCORS(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		log.Println("Warning: CORS_ALLOWED_ORIGINS is empty, cross-origin requests will be refused by browsers")
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		MaxAge:           corsMaxAge,
	})
}
