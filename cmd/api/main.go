package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/background"
	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/config"
	"github.com/BradenHooton/tradergate/internal/database"
	"github.com/BradenHooton/tradergate/internal/handlers"
	"github.com/BradenHooton/tradergate/internal/kvstore"
	middlewareCustom "github.com/BradenHooton/tradergate/internal/middleware"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/repositories"
	"github.com/BradenHooton/tradergate/internal/routes"
	"github.com/BradenHooton/tradergate/internal/services"
	pkgauth "github.com/BradenHooton/tradergate/pkg/auth"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	if cfg.Server.MigrateOnStart {
		if err := database.Migrate(startupCtx, cfg.Database.DSN(), logger); err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize database
	db, err := database.NewConnection(startupCtx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)
	httpMetrics := middlewareCustom.NewHTTPMetrics(registry)

	// Key/value tier for sessions and lockouts
	clk := clock.Real{}
	store, storeMode := kvstore.Open(startupCtx, kvstore.Options{
		URL:             cfg.Store.RedisURL,
		Prefix:          cfg.Store.KeyPrefix,
		DialTimeout:     cfg.Store.DialTimeout,
		FallbackOnError: cfg.Store.FallbackOnError,
		Clock:           clk,
		Logger:          logger,
		OnFallback:      metrics.StoreFallback,
	})
	defer store.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	billingRepo := repositories.NewBillingRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Audit records go to the log and to the audit_logs table
	auditService := services.NewAuditService(auditRepo, userRepo, clk, logger)
	auditLogger := pkglogger.NewAuditLogger(logger, auditService)

	// Email delivery; without SES settings messages are only logged
	var emailSender services.EmailSender = services.NewLogEmailSender(logger)
	if cfg.Email.EmailEnabled() {
		sesSender, err := services.NewSESEmailSender(startupCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailSender = sesSender
	}

	// Initialize auth primitives
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.MFAChallengeExpiry, clk)
	totpManager, err := auth.NewTOTPManager(auth.DeriveTOTPKey(cfg.Auth.TOTPKeyMaterial()), cfg.Auth.TOTPIssuer, clk)
	if err != nil {
		logger.Error("failed to initialize totp manager", slog.Any("error", err))
		os.Exit(1)
	}
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	lockoutService := services.NewLockoutService(store, services.LockoutConfig{
		Threshold:  cfg.Lockout.Threshold,
		Window:     cfg.Lockout.Window,
		Duration:   cfg.Lockout.Duration,
		FailClosed: cfg.Lockout.FailClosed,
	}, clk, logger, auditLogger, metrics)
	sessionService := services.NewSessionService(store, services.SessionConfig{
		TTL:      cfg.Session.SessionTTL(),
		FailOpen: cfg.Session.FailOpen,
	}, clk, logger, metrics)
	settingsService := services.NewSettingsService(settingsRepo, logger)
	notificationService := services.NewNotificationService(notificationRepo, userRepo, emailSender, clk, logger)
	subscriptionService := services.NewSubscriptionService(billingRepo, settingsService, notificationService, clk, logger, auditLogger, metrics)
	paymentMethodService := services.NewPaymentMethodService(billingRepo, clk, logger, auditLogger)
	authService := services.NewAuthService(userRepo, lockoutService, sessionService, tokenManager, totpManager, timingDelay, logger, auditLogger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, ipConfig, auth.CookieConfig{
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	})
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)
	adminHandler := handlers.NewAdminHandler(subscriptionService, lockoutService, settingsService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	methodHandler := handlers.NewPaymentMethodHandler(paymentMethodService)
	auditHandler := handlers.NewAuditHandler(auditService)
	healthHandler := handlers.NewHealthHandler(db.HealthCheck, store.Ping, storeMode)

	// Bootstrap first admin user if configured
	if err := ensureAdminUser(startupCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	startupCancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(httpMetrics.Handler)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/health", healthHandler.Health)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:         authHandler,
		SubscriptionHandler: subscriptionHandler,
		AdminHandler:        adminHandler,
		NotificationHandler: notificationHandler,
		MethodHandler:       methodHandler,
		AuditHandler:        auditHandler,
		TokenManager:        tokenManager,
		AccessGate:          subscriptionService,
		GateConfig:          auth.GateConfig{OnReject: metrics.GateRejected},
		AuthRateLimit:       middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRateLimit, IPConfig: ipConfig},
		APIRateLimit:        middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.APIRateLimit, IPConfig: ipConfig},
		Logger:              logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background tasks
	var purger kvstore.Purger
	if p, ok := store.(kvstore.Purger); ok {
		purger = p
	}
	scheduler := background.NewScheduler(subscriptionService, purger, auditService, background.SchedulerConfig{
		SweepInterval:  cfg.Subscription.SweepInterval,
		SweepOnStart:   cfg.Subscription.SweepOnStart,
		PurgeInterval:  cfg.Store.PurgeInterval,
		AuditRetention: cfg.Audit.Retention(),
	}, logger)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()

	go scheduler.Start(schedulerCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("store", storeMode))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	schedulerCancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminPassword == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		Username:          adminUsername,
		Email:             os.Getenv("ADMIN_EMAIL"),
		PasswordHash:      hashedPassword,
		FullName:          "Admin",
		Role:              models.RoleAdmin,
		IsActive:          true,
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully", slog.String("username", pkglogger.MaskedUsername(adminUsername)))
	return nil
}
