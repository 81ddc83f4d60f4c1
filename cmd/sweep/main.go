// Command sweep runs the daily subscription sweep once and exits. It is meant
// for an external scheduler such as a cron job when the API process runs
// with its own scheduler disabled.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/config"
	"github.com/BradenHooton/tradergate/internal/database"
	"github.com/BradenHooton/tradergate/internal/repositories"
	"github.com/BradenHooton/tradergate/internal/services"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	var emailSender services.EmailSender = services.NewLogEmailSender(logger)
	if cfg.Email.EmailEnabled() {
		sesSender, err := services.NewSESEmailSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailSender = sesSender
	}

	clk := clock.Real{}
	userRepo := repositories.NewUserRepository(db)
	auditService := services.NewAuditService(repositories.NewAuditLogRepository(db), userRepo, clk, logger)
	settingsService := services.NewSettingsService(repositories.NewSettingsRepository(db), logger)
	notificationService := services.NewNotificationService(repositories.NewNotificationRepository(db), userRepo, emailSender, clk, logger)
	subscriptionService := services.NewSubscriptionService(
		repositories.NewBillingRepository(db),
		settingsService,
		notificationService,
		clk,
		logger,
		pkglogger.NewAuditLogger(logger, auditService),
		nil,
	)

	if retention := cfg.Audit.Retention(); retention > 0 {
		if _, err := auditService.PurgeOlderThan(ctx, retention); err != nil {
			logger.Warn("audit retention failed", slog.Any("error", err))
		}
	}

	result, err := subscriptionService.RunDailySweep(ctx)
	if result == nil {
		logger.Error("sweep failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err != nil {
		logger.Warn("sweep finished with errors",
			slog.Int("expired", result.ExpiredCount),
			slog.Int("reminders", result.RemindersSent),
			slog.Any("error", err))
		os.Exit(2)
	}

	logger.Info("sweep finished",
		slog.Int("expired", result.ExpiredCount),
		slog.Int("reminders", result.RemindersSent))
}
