package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/HSouheill/enrollment_backend/config"
	"github.com/HSouheill/enrollment_backend/controllers"
	"github.com/HSouheill/enrollment_backend/jobs"
	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/repositories"
	"github.com/HSouheill/enrollment_backend/repositories/memstore"
	"github.com/HSouheill/enrollment_backend/routes"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/HSouheill/enrollment_backend/websocket"
)

// CustomValidator is a custom validator for Echo
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// stores groups the persistence the services run on
type stores struct {
	tx          services.Transactor
	members     services.MemberStore
	agents      services.AgentStore
	payments    services.PaymentStore
	commissions services.CommissionStore
	payouts     services.PayoutStore
	sessions    services.SessionStore
	failures    services.FailureStore
	audits      services.BackfillAuditStore
	close       func()
}

func openStores(settings *config.Settings) stores {
	if settings.StorageDriver == config.StorageMemory {
		log.Println("Using in-memory storage, data is lost on restart")
		db := memstore.New()
		return stores{
			tx:          db,
			members:     db.Members(),
			agents:      db.Agents(),
			payments:    db.Payments(),
			commissions: db.Commissions(),
			payouts:     db.Payouts(),
			sessions:    db.Sessions(),
			failures:    db.Failures(),
			audits:      db.BackfillAudits(),
			close:       func() {},
		}
	}

	client := config.ConnectDB()
	db := config.GetDatabase(client)
	return stores{
		tx:          repositories.NewTransactor(client),
		members:     repositories.NewMemberRepository(db),
		agents:      repositories.NewAgentRepository(db),
		payments:    repositories.NewPaymentRepository(db),
		commissions: repositories.NewCommissionRepository(db),
		payouts:     repositories.NewPayoutRepository(db),
		sessions:    repositories.NewSessionRepository(db),
		failures:    repositories.NewFailureRepository(db),
		audits:      repositories.NewBackfillAuditRepository(db),
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				log.Printf("Failed to disconnect from MongoDB: %v", err)
			}
		},
	}
}

func main() {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	rates, err := config.LoadRateTable(settings.RatesFile)
	if err != nil {
		log.Fatalf("Failed to load commission rates: %v", err)
	}

	// Connect to Redis. Without it locks and anti-bot tokens stay in process.
	rdb, err := config.ConnectRedis(settings.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	st := openStores(settings)
	defer st.close()

	// Services
	calendar := services.PayoutCalendar{NoticeDays: settings.NoticeDays, Location: settings.Timezone}
	alerts := services.NewMailAlerter(settings.Mail)
	registry := services.NewSessionRegistry()
	gateway := services.NewGatewayService(settings.Gateway)
	antiBot := services.NewAntiBotVerifier(settings.AntiBot, rdb)

	sessionService := services.NewSessionService(st.members, st.sessions, gateway, antiBot, registry)
	attributor := services.NewAttributor(rates, st.agents, st.commissions, calendar)
	finalizer := services.NewFinalizer(st.tx, st.members, st.payments, st.sessions, st.failures, attributor, gateway, alerts, registry)
	scheduler := services.NewPayoutScheduler(st.tx, st.commissions, st.payouts, newLocker(rdb), calendar)
	reconciler := services.NewReconciler(st.tx, st.members, st.payments, st.commissions, st.audits, finalizer, attributor, alerts)

	// Create WebSocket hub
	wsHub := websocket.NewHub()
	wsHub.Attach(registry)
	go wsHub.Run()

	// Background jobs
	cronScheduler, err := jobs.NewScheduler(jobs.Config{
		PayoutSpec:    settings.PayoutCron,
		ReconcileSpec: settings.ReconcileCron,
		Location:      settings.Timezone,
	}, scheduler, reconciler, registry)
	if err != nil {
		log.Fatalf("Invalid cron schedule: %v", err)
	}
	cronScheduler.Start()

	// Create a new Echo instance
	e := echo.New()

	// Initialize custom validator
	e.Validator = &CustomValidator{validator: validator.New()}

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter()

	// Middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.GlobalCORS(settings.CORSOrigins))
	e.Use(rateLimiter.RateLimit())
	e.Use(middleware.SecurityHeadersWithConfig(middleware.SecurityConfig{
		AllowedDomains: []string{"*"},
		AllowInlineJS:  true,
		AllowEval:      false,
		ScriptSources:  scriptOrigins(settings.Gateway.ScriptURL),
	}))
	e.Use(httpsRedirect())

	e.Match([]string{"GET", "HEAD"}, "/", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "OK",
			"message": "Enrollment Backend is running",
			"version": "1.0",
		})
	})

	e.Match([]string{"GET", "HEAD"}, "/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "healthy",
			"storage": settings.StorageDriver,
		})
	})

	routes.SetupRoutes(e, settings.JWTSecret, routes.Controllers{
		Payments:       controllers.NewPaymentController(sessionService, finalizer),
		Commissions:    controllers.NewCommissionController(st.commissions, st.payouts, attributor, scheduler),
		Reconciliation: controllers.NewReconciliationController(reconciler),
	}, wsHub, registry)

	// Start server
	go func() {
		if err := e.Start(":" + settings.Port); err != nil {
			e.Logger.Info("shutting down the server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cronScheduler.Stop(ctx)
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}

func newLocker(rdb *redis.Client) services.Locker {
	if rdb == nil {
		return services.NewLocalLocker()
	}
	return services.NewRedsyncLocker(rdb)
}

// scriptOrigins returns the origin of the hosted checkout script for the CSP
func scriptOrigins(scriptURL string) []string {
	u, err := url.Parse(scriptURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}

func httpsRedirect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Forwarded-Proto") == "http" {
				return c.Redirect(301, "https://"+c.Request().Host+c.Request().RequestURI)
			}
			return next(c)
		}
	}
}
