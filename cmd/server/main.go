package main

import (
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"schoolfees_app/internal/config"
	"schoolfees_app/internal/handlers"
	appMiddleware "schoolfees_app/internal/middleware"
	"schoolfees_app/internal/services"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	cache, err := services.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cache.Close()

	email := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom)
	stripeSvc := services.NewStripeService(cfg.StripeSecretKey)

	payments := services.NewPaymentService(db, cache, email, cfg.BillingCutover, cfg.DefaultAdmissionFee)
	outstanding := services.NewOutstandingService(db, cache, cfg.BillingCutover)
	reconciliation := services.NewReconciliationService(db, cache, email)
	attendance := services.NewAttendanceService(db, email)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	paymentHandler := handlers.NewPaymentHandler(db, payments)
	outstandingHandler := handlers.NewOutstandingHandler(outstanding)
	webhookHandler := handlers.NewWebhookHandler(reconciliation, cfg.StripeWebhookSecret)
	familyHandler := handlers.NewFamilyHandler(db, stripeSvc)
	attendanceHandler := handlers.NewAttendanceHandler(attendance)

	api := e.Group("/api")
	api.POST("/payments", paymentHandler.CreatePayment)
	api.POST("/payments/:id/topup", paymentHandler.TopUpPayment)
	api.GET("/payments/:id", paymentHandler.GetPayment)
	api.GET("/families/:id", familyHandler.GetFamily)
	api.GET("/families/:id/payments", paymentHandler.ListFamilyPayments)
	api.GET("/families/:id/unpaid-months", outstandingHandler.FamilyUnpaidMonths)
	api.GET("/students/:id/unpaid-months", outstandingHandler.StudentUnpaidMonths)
	api.POST("/families/:id/direct-debit/setup", familyHandler.SetupDirectDebit)
	api.POST("/attendance", attendanceHandler.RecordAttendance)

	e.POST("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
