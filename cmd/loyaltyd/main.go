package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"perkledger/auth"
	"perkledger/calendar"
	"perkledger/catalog"
	"perkledger/config"
	"perkledger/middleware"
	"perkledger/models"
	"perkledger/observability/logging"
	"perkledger/observability/otel"
	"perkledger/otp"
	"perkledger/server"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Setup("loyaltyd", "", logging.Options{}).Error("config error", "error", err.Error())
		os.Exit(1)
	}

	logger := logging.Setup("loyaltyd", cfg.Environment, logging.Options{FilePath: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelMetrics || cfg.OTelTraces {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "loyaltyd",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTelEndpoint,
			Insecure:    cfg.OTelInsecure,
			Headers:     otel.ParseHeaders(cfg.OTelHeaders),
			Metrics:     cfg.OTelMetrics,
			Traces:      cfg.OTelTraces,
		})
		if err != nil {
			logger.Error("telemetry init error", "error", err.Error())
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown error", "error", err.Error())
			}
		}()
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("database connection error", "error", err.Error())
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("auto migrate error", "error", err.Error())
		os.Exit(1)
	}

	if cfg.CatalogSeedPath != "" {
		seed, err := catalog.LoadSeed(cfg.CatalogSeedPath)
		if err != nil {
			logger.Error("catalog seed error", "path", cfg.CatalogSeedPath, "error", err.Error())
			os.Exit(1)
		}
		if err := catalog.NewStore(db).Apply(ctx, seed); err != nil {
			logger.Error("catalog apply error", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("catalog seed applied", "path", cfg.CatalogSeedPath)
	}

	srv := server.New(server.Config{
		DB:          db,
		Clock:       calendar.NewInLocation(cfg.BusinessTZ),
		Proofer:     otp.New(cfg.OTPStep, cfg.OTPSkew),
		Verifier:    auth.NewVerifier([]byte(cfg.AuthSecret), cfg.AuthIssuer, cfg.AuthMaxSkew),
		Logger:      logger,
		Multiplier:  cfg.Multiplier,
		RevokeCount: cfg.RevokeCount,
		DecayIdle:   cfg.DecayIdle,
		PresentationLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.PresentationRatePerMinute,
			Burst:             cfg.PresentationBurst,
		},
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting loyaltyd", "addr", httpServer.Addr, "business_tz", cfg.BusinessTZ.String())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err.Error())
		}
	}
}
