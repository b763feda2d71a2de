package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meauxbility_api/internal/app"
	"meauxbility_api/internal/config"
	"meauxbility_api/internal/handlers"
	mw "meauxbility_api/internal/middleware"
	"meauxbility_api/internal/services"
	"meauxbility_api/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), "meauxbility-api", cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	a, err := app.New(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	if err := a.Migrate(); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	// Admin routes need Firebase; the rest of the API runs without it.
	var verifier mw.TokenVerifier
	authClient, err := services.InitFirebase(context.Background(), cfg.FirebaseCredentialsPath)
	if err != nil {
		logger.Warn("firebase initialization failed, admin routes disabled", zap.Error(err))
	} else {
		verifier = authClient
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = mw.NewErrorHandler(logger)
	e.IPExtractor, err = mw.ClientIPExtractor(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(mw.RequestLogger(logger))
	e.Use(mw.Tracing())

	checks := map[string]handlers.Pinger{"database": services.DBPinger{DB: a.DB}}
	routes := handlers.Routes{
		Donations: handlers.NewDonationHandler(a.Intake, a.Reconciler, a.Ledger),
		Webhooks:  handlers.NewWebhookHandler(a.Reconciler, logger.Named("webhook")),
		Forms:     handlers.NewFormHandler(a.DB, a.Mailer, cfg.StaffEmail, cfg.OrganizationName, logger.Named("forms")),
		Admin:     handlers.NewAdminHandler(a.Ledger, a.Events),
		Health:    handlers.NewHealthHandler(checks),
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis
		routes.IntakeRateLimit = mw.RateLimit(a.Redis, "ratelimit:intake:", cfg.IntakeRateLimit, cfg.IntakeRateWindow, logger)
	}
	if verifier != nil {
		routes.AdminAuth = mw.RequireAdmin(verifier)
	}
	handlers.RegisterRoutes(e, routes)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := a.Close(ctx); err != nil {
		logger.Error("failed to close services", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}
	logger.Info("server exited")
}
